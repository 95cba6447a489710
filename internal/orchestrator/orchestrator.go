// Package orchestrator implements the Chat Orchestrator (C10): turns a
// prompt, history, and target model into a canonical request, truncates
// it to fit the target's context window, calls the Provider Client, and
// accounts for token usage and estimated cost.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	core "github.com/go-lcgw/lcgw/internal"
	"github.com/go-lcgw/lcgw/internal/provider"
	"github.com/go-lcgw/lcgw/internal/tokencount"
)

const (
	defaultMaxTokens  = 1024
	defaultTemperature = 0.7
)

// HistoryTurn is one prior prompt/response exchange supplied by the
// caller (already loaded from the Chat Store, if any).
type HistoryTurn struct {
	Prompt   string
	Response string
}

// ModelLimits is the subset of Model Metadata (C4) the Orchestrator
// needs: context window and pricing. Nil fields mean "unknown" and
// disable the corresponding step (truncation, cost estimate).
type ModelLimits struct {
	ContextLength   *int
	MaxOutputTokens *int
	InputPricePerM  *float64
	OutputPricePerM *float64
}

// MetadataLookup resolves ModelLimits for a provider/model pair. Nil
// results are treated as "unknown", per spec §4.8 step 1 ("if cached").
type MetadataLookup interface {
	Limits(ctx context.Context, providerName, model string) *ModelLimits
}

// HistoryStore persists one finished exchange. nil disables persistence.
type HistoryStore interface {
	AppendEntry(ctx context.Context, entry core.ChatEntry) error
}

// AliasResolver resolves a short name to (provider, model).
type AliasResolver interface {
	ResolveAlias(name string) (providerName, model string, err error)
}

// Request is the input to SendChat/SendChatStream.
type Request struct {
	ChatID      string
	Provider    string
	Model       string
	Prompt      string
	System      string
	History     []HistoryTurn
	MaxTokens   *int
	Temperature *float64
	Tools       []core.ToolDefinition
}

// Result is the outcome of one chat exchange.
type Result struct {
	Response         *core.CanonicalChatResponse
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
	Truncated        bool
	TruncationNotice string
}

// Orchestrator wires the Provider Client (C9), Metadata Extractor/Cache
// (C4/C5), Token Counter (C3), Alias resolution (C1), and the Chat
// Store (C13) into spec's send_chat/send_chat_stream operations.
type Orchestrator struct {
	providers *provider.Registry
	aliases   AliasResolver
	metadata  MetadataLookup // may be nil
	store     HistoryStore   // may be nil
	log       zerolog.Logger
}

// New returns an Orchestrator. metadata and store may be nil to disable
// truncation-by-metadata and persistence respectively.
func New(providers *provider.Registry, aliases AliasResolver, metadata MetadataLookup, store HistoryStore, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{providers: providers, aliases: aliases, metadata: metadata, store: store, log: log}
}

// resolve determines the effective (provider, model), resolving an
// alias when req.Provider is empty.
func (o *Orchestrator) resolve(req Request) (providerName, model string, err error) {
	if req.Provider != "" {
		return req.Provider, req.Model, nil
	}
	if o.aliases == nil {
		return "", "", &core.ConfigError{Op: "resolve_alias", Err: fmt.Errorf("no provider given and no alias resolver configured")}
	}
	return o.aliases.ResolveAlias(req.Model)
}

// buildMessages assembles the canonical message list per spec §4.8
// step 3: optional system message, flattened history pairs, then the
// (possibly truncated) final prompt.
func buildMessages(system, prompt string, history []tokencount.HistoryEntry) []core.CanonicalMessage {
	var messages []core.CanonicalMessage
	if system != "" {
		messages = append(messages, core.CanonicalMessage{Role: core.RoleSystem, Content: core.TextContent(system)})
	}
	for _, h := range history {
		messages = append(messages,
			core.CanonicalMessage{Role: core.RoleUser, Content: core.TextContent(h.Prompt)},
			core.CanonicalMessage{Role: core.RoleAssistant, Content: core.TextContent(h.Response)},
		)
	}
	messages = append(messages, core.CanonicalMessage{Role: core.RoleUser, Content: core.TextContent(prompt)})
	return messages
}

func toHistoryEntries(turns []HistoryTurn) []tokencount.HistoryEntry {
	out := make([]tokencount.HistoryEntry, len(turns))
	for i, t := range turns {
		out[i] = tokencount.HistoryEntry{Prompt: t.Prompt, Response: t.Response}
	}
	return out
}

func withDefaults(req Request) (maxTokens int, temperature float64) {
	maxTokens = defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature = defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return
}

// preflight resolves the provider/model, applies truncation when
// metadata is available, and returns the final message list alongside
// the truncation outcome.
func (o *Orchestrator) preflight(ctx context.Context, req Request) (providerName, model string, messages []core.CanonicalMessage, truncated bool, notice string, err error) {
	providerName, model, err = o.resolve(req)
	if err != nil {
		return
	}

	history := toHistoryEntries(req.History)
	prompt := req.Prompt

	if o.metadata != nil {
		if limits := o.metadata.Limits(ctx, providerName, model); limits != nil && limits.ContextLength != nil {
			counter := tokencount.NewCounter(model)
			if counter.ExceedsContextLimit(prompt, req.System, history, *limits.ContextLength) {
				result := counter.TruncateToFit(prompt, req.System, history, *limits.ContextLength, limits.MaxOutputTokens)
				prompt = result.Prompt
				history = result.History
				truncated = result.Truncated
				if truncated {
					notice = fmt.Sprintf("truncated to fit context window: %d history entries kept, prompt %s",
						len(history), truncationKind(result, req.Prompt))
				}
			}
		}
	}

	messages = buildMessages(req.System, prompt, history)
	return
}

func truncationKind(r tokencount.TruncateResult, original string) string {
	if r.Prompt != original {
		return "shortened"
	}
	return "kept intact"
}

// SendChat performs one non-streaming chat exchange.
func (o *Orchestrator) SendChat(ctx context.Context, req Request) (*Result, error) {
	providerName, model, messages, truncated, notice, err := o.preflight(ctx, req)
	if err != nil {
		return nil, err
	}

	client, err := o.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	maxTokens, temperature := withDefaults(req)
	resp, err := client.ChatCompletion(ctx, core.CanonicalChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Tools:       req.Tools,
	})
	if err != nil {
		return nil, err
	}

	result := o.account(ctx, providerName, model, messages, resp, truncated, notice)
	o.persist(ctx, req.ChatID, model, req.Prompt, resp.Message.Content.PlainText(), result)
	return result, nil
}

// SendChatStream performs one streaming chat exchange. onConnect fires
// once when the connection opens; onDelta fires once per text chunk.
// Per the resolved streaming policy, the full accumulated text (not a
// placeholder) is what gets persisted to the Chat Store.
func (o *Orchestrator) SendChatStream(ctx context.Context, req Request, onConnect func(), onDelta func(string)) (*Result, error) {
	providerName, model, messages, truncated, notice, err := o.preflight(ctx, req)
	if err != nil {
		return nil, err
	}

	client, err := o.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	maxTokens, temperature := withDefaults(req)
	resp, err := client.ChatCompletionStream(ctx, core.CanonicalChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Tools:       req.Tools,
	}, onConnect, onDelta)
	if err != nil {
		return nil, err
	}

	result := o.account(ctx, providerName, model, messages, resp, truncated, notice)
	o.persist(ctx, req.ChatID, model, req.Prompt, resp.Message.Content.PlainText(), result)
	return result, nil
}

// account computes input/output token counts and, when pricing is
// known, an estimated cost, per spec §4.8 step 5.
func (o *Orchestrator) account(ctx context.Context, providerName, model string, messages []core.CanonicalMessage, resp *core.CanonicalChatResponse, truncated bool, notice string) *Result {
	counter := tokencount.NewCounter(model)

	result := &Result{Response: resp, Truncated: truncated, TruncationNotice: notice}

	if resp.Usage != nil && resp.Usage.InputTokens > 0 {
		result.InputTokens = resp.Usage.InputTokens
		result.OutputTokens = resp.Usage.OutputTokens
	} else {
		var joined strings.Builder
		for _, m := range messages {
			joined.WriteString(m.Content.PlainText())
		}
		result.InputTokens = counter.CountText(joined.String())
		result.OutputTokens = counter.CountText(resp.Message.Content.PlainText())
	}

	if o.metadata != nil {
		if limits := o.metadata.Limits(ctx, providerName, model); limits != nil &&
			limits.InputPricePerM != nil && limits.OutputPricePerM != nil {
			result.EstimatedCostUSD = float64(result.InputTokens)*(*limits.InputPricePerM)/1e6 +
				float64(result.OutputTokens)*(*limits.OutputPricePerM)/1e6
		}
	}

	return result
}

func (o *Orchestrator) persist(ctx context.Context, chatID, model, question, response string, result *Result) {
	if result.Truncated {
		o.log.Warn().Str("model", model).Str("notice", result.TruncationNotice).Msg("chat request truncated to fit context window")
	}
	if o.store == nil {
		return
	}
	entry := core.ChatEntry{
		ChatID:       chatID,
		Model:        model,
		Question:     question,
		Response:     response,
		InputTokens:  &result.InputTokens,
		OutputTokens: &result.OutputTokens,
	}
	if err := o.store.AppendEntry(ctx, entry); err != nil {
		o.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to persist chat entry")
	}
}
