package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	core "github.com/go-lcgw/lcgw/internal"
	"github.com/go-lcgw/lcgw/internal/cloudauth"
	tmpl "github.com/go-lcgw/lcgw/internal/template"
	"github.com/go-lcgw/lcgw/internal/transport"
)

// Client executes requests against one configured Provider, rendering
// bodies through the Template Engine and authenticating through the
// Auth Manager. Ported from the teacher's openai.Client (fixed struct
// marshaling) into a template-driven adapter shared by every provider.
type Client struct {
	Provider core.Provider
	cred     core.Credential
	pools    *transport.Pools
	engine   *tmpl.Engine
	cache    cloudauth.TokenCache
}

// New returns a Client for provider p, authenticating with cred.
func New(p core.Provider, cred core.Credential, pools *transport.Pools, engine *tmpl.Engine, cache cloudauth.TokenCache) *Client {
	return &Client{Provider: p, cred: cred, pools: pools, engine: engine, cache: cache}
}

// chatURL builds the chat endpoint URL for model, substituting {model}
// or the legacy {model_name} placeholder when chat_path carries one.
// omitModel reports whether the "model" field must be dropped from the
// request body, per spec §4.7.
func (c *Client) chatURL(model string) (url string, omitModel bool) {
	path := c.Provider.EffectiveChatPath()
	for _, placeholder := range []string{"{model}", "{model_name}"} {
		if strings.Contains(path, placeholder) {
			return c.Provider.Endpoint + strings.ReplaceAll(path, placeholder, model), true
		}
	}
	return c.Provider.Endpoint + path, false
}

func messagesToTemplateData(messages []core.CanonicalMessage) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": string(m.Role)}
		if m.Content.IsMultimodal() {
			parts := make([]any, 0, len(m.Content.Parts))
			for _, p := range m.Content.Parts {
				switch p.Type {
				case core.ContentImage:
					parts = append(parts, map[string]any{"type": "image", "url": p.URL, "mime": p.MIME, "base64": p.Base64, "detail": p.Detail})
				default:
					parts = append(parts, map[string]any{"type": "text", "text": p.Text})
				}
			}
			entry["content"] = parts
		} else {
			entry["content"] = m.Content.PlainText()
		}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			entry["tool_calls"] = m.ToolCalls
		}
		out = append(out, entry)
	}
	return out
}

// requestData builds the template data for a chat request body.
func requestData(req core.CanonicalChatRequest, omitModel bool) map[string]any {
	return map[string]any{
		"Model":       req.Model,
		"OmitModel":   omitModel,
		"Messages":    messagesToTemplateData(req.Messages),
		"MaxTokens":   req.MaxTokens,
		"Temperature": req.Temperature,
		"Tools":       req.Tools,
		"Stream":      req.Stream,
	}
}

// wireResponse is the canonical JSON shape every response template must
// produce, per spec §4.7 step 6.
type wireResponse struct {
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	FinishReason string          `json:"finish_reason"`
	ToolCalls    []core.ToolCall `json:"tool_calls"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) buildRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, &core.NetworkError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range c.Provider.Headers {
		req.Header.Set(name, strings.ReplaceAll(value, "${api_key}", c.cred.APIKey))
	}

	auth, err := cloudauth.EffectiveAuth(ctx, c.Provider, c.cred, c.cache, c.pools.Unary)
	if err != nil {
		return nil, err
	}
	cloudauth.Apply(req, auth)
	return req, nil
}

// ChatCompletion sends a non-streaming chat request and returns the
// canonical response.
func (c *Client) ChatCompletion(ctx context.Context, req core.CanonicalChatRequest) (*core.CanonicalChatResponse, error) {
	url, omitModel := c.chatURL(req.Model)
	tc := tmpl.ResolveTemplate(c.Provider.Templates.Chat, req.Model)

	body, err := c.engine.RenderField(tc.Request, requestData(req, omitModel))
	if err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.pools.Unary.Do(httpReq)
	if err != nil {
		return nil, &core.NetworkError{Op: "chat completion", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &core.NetworkError{Op: "read chat response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: truncate(raw, 4096)}
	}

	var rawData map[string]any
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: "non-JSON response: " + truncate(raw, 256)}
	}

	canonical, err := c.engine.RenderField(tc.Response, rawData)
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(canonical, &wire); err != nil {
		return nil, &core.TemplateError{Name: tc.Response, Err: fmt.Errorf("response template did not produce the canonical shape: %w", err)}
	}

	return &core.CanonicalChatResponse{
		Message: core.CanonicalMessage{
			Role:      core.Role(wire.Role),
			Content:   core.TextContent(wire.Content),
			ToolCalls: wire.ToolCalls,
		},
		FinishReason: wire.FinishReason,
		Usage:        &core.Usage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens},
	}, nil
}

// ChatCompletionStream sends a streaming chat request. onConnect fires
// exactly once when headers arrive; onDelta fires once per extracted
// text chunk. Returns the accumulated canonical response once the
// stream completes.
func (c *Client) ChatCompletionStream(ctx context.Context, req core.CanonicalChatRequest, onConnect func(), onDelta func(text string)) (*core.CanonicalChatResponse, error) {
	req.Stream = true
	url, omitModel := c.chatURL(req.Model)
	tc := tmpl.ResolveTemplate(c.Provider.Templates.Chat, req.Model)

	body, err := c.engine.RenderField(tc.Request, requestData(req, omitModel))
	if err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	transport.ApplyStreamingHeaders(httpReq.Header)

	resp, err := c.pools.Streaming.Do(httpReq)
	if err != nil {
		return nil, &core.NetworkError{Op: "chat completion stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: string(raw)}
	}

	ch := make(chan transport.Chunk)
	go transport.ReadStream(ctx, resp.Body, tc.StreamResponse, onConnect, ch)

	var text strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, &core.NetworkError{Op: "read chat stream", Err: chunk.Err}
		}
		if chunk.Done {
			break
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
	}

	return &core.CanonicalChatResponse{
		Message:      core.CanonicalMessage{Role: core.RoleAssistant, Content: core.TextContent(text.String())},
		FinishReason: "stop",
	}, nil
}

// ListModels fetches the raw models listing for the Metadata Extractor
// (C4) to interpret; it does no shape validation of its own.
func (c *Client) ListModels(ctx context.Context) ([]byte, error) {
	url := c.Provider.Endpoint + c.Provider.EffectiveModelsPath()
	req, err := c.buildRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.pools.Unary.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: "list models", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &core.NetworkError{Op: "read models response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: truncate(raw, 4096)}
	}
	return raw, nil
}

// Embeddings renders an embeddings request through the provider's
// embeddings template pair and returns the embedding vectors.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	path := c.Provider.EmbeddingsPath
	if path == "" {
		path = "/embeddings"
	}
	tc := tmpl.ResolveTemplate(c.Provider.Templates.Embeddings, model)

	body, err := c.engine.RenderField(tc.Request, map[string]any{"Model": model, "Input": inputs})
	if err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, http.MethodPost, c.Provider.Endpoint+path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.pools.Unary.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: "embeddings", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &core.NetworkError{Op: "read embeddings response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: truncate(raw, 4096)}
	}

	var rawData map[string]any
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return nil, &core.ProviderError{Provider: c.Provider.Name, Status: resp.StatusCode, Body: "non-JSON response: " + truncate(raw, 256)}
	}

	canonical, err := c.engine.RenderField(tc.Response, rawData)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(canonical, &parsed); err != nil {
		return nil, &core.TemplateError{Name: tc.Response, Err: err}
	}
	return parsed.Embeddings, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
