package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	core "github.com/go-lcgw/lcgw/internal"
	"github.com/go-lcgw/lcgw/internal/provider"
	tmpl "github.com/go-lcgw/lcgw/internal/template"
	"github.com/go-lcgw/lcgw/internal/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRegistry(t *testing.T, handler http.HandlerFunc) (*provider.Registry, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := core.Provider{Name: "openai", Endpoint: srv.URL, Templates: core.EndpointTemplateSet{Chat: provider.DefaultOpenAITemplates()}}
	client := provider.New(p, core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-test"}, transport.NewPools(nil), tmpl.New(), nil)
	reg := provider.NewRegistry()
	reg.Register("openai", client)
	return reg, srv
}

func okChatHandler(content string, inputTokens, outputTokens int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": inputTokens, "completion_tokens": outputTokens},
		})
	}
}

type fakeAliases struct {
	providerName, model string
	err                  error
}

func (f fakeAliases) ResolveAlias(name string) (string, string, error) {
	return f.providerName, f.model, f.err
}

type fakeMetadata struct {
	limits *ModelLimits
}

func (f fakeMetadata) Limits(ctx context.Context, providerName, model string) *ModelLimits {
	return f.limits
}

type fakeStore struct {
	entries []core.ChatEntry
	err     error
}

func (f *fakeStore) AppendEntry(ctx context.Context, entry core.ChatEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestSendChatAppliesDefaultsAndPersists(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	reg, srv := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		okChatHandler("hi there", 10, 3)(w, r)
	})
	defer srv.Close()

	store := &fakeStore{}
	o := New(reg, fakeAliases{}, nil, store, testLogger())

	result, err := o.SendChat(context.Background(), Request{
		ChatID:   "chat-1",
		Provider: "openai",
		Model:    "gpt-4o",
		Prompt:   "hello",
	})
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	body := <-bodies
	if body["max_tokens"] != float64(1024) || body["temperature"] != 0.7 {
		t.Errorf("request max_tokens/temperature = %v/%v, want defaults 1024/0.7", body["max_tokens"], body["temperature"])
	}
	if result.InputTokens != 10 || result.OutputTokens != 3 {
		t.Errorf("usage = %+v, want provider-reported 10/3", result)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(store.entries))
	}
	if store.entries[0].Response != "hi there" {
		t.Errorf("persisted response = %q", store.entries[0].Response)
	}
}

func TestSendChatResolvesAlias(t *testing.T) {
	reg, srv := newTestRegistry(t, okChatHandler("ok", 1, 1))
	defer srv.Close()

	o := New(reg, fakeAliases{providerName: "openai", model: "gpt-4o"}, nil, nil, testLogger())

	result, err := o.SendChat(context.Background(), Request{Model: "fast", Prompt: "hi"})
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if result.Response.Message.Content.PlainText() != "ok" {
		t.Errorf("response = %q", result.Response.Message.Content.PlainText())
	}
}

func TestSendChatWithoutAliasResolverErrors(t *testing.T) {
	reg, srv := newTestRegistry(t, okChatHandler("ok", 1, 1))
	defer srv.Close()

	o := New(reg, nil, nil, nil, testLogger())
	if _, err := o.SendChat(context.Background(), Request{Model: "fast", Prompt: "hi"}); err == nil {
		t.Fatal("expected error when no provider and no alias resolver")
	}
}

func TestSendChatTruncatesWhenMetadataReportsContextLimit(t *testing.T) {
	var gotMessageCount int
	reg, srv := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if msgs, ok := body["messages"].([]any); ok {
			gotMessageCount = len(msgs)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"}},
		})
	})
	defer srv.Close()

	limit := 30
	o := New(reg, fakeAliases{}, fakeMetadata{limits: &ModelLimits{ContextLength: &limit}}, nil, testLogger())

	history := make([]HistoryTurn, 20)
	for i := range history {
		history[i] = HistoryTurn{Prompt: "this is a reasonably long prior prompt", Response: "this is a reasonably long prior response"}
	}

	result, err := o.SendChat(context.Background(), Request{
		Provider: "openai",
		Model:    "gpt-4o",
		Prompt:   "final question",
		History:  history,
	})
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if !result.Truncated {
		t.Error("expected Truncated = true with a tight context limit and long history")
	}
	if result.TruncationNotice == "" {
		t.Error("expected a non-empty truncation notice")
	}
	if gotMessageCount >= 41 {
		t.Errorf("expected history to be trimmed below the full 20 pairs + prompt, got %d messages", gotMessageCount)
	}
}

func TestSendChatEstimatesCostWhenPricingKnown(t *testing.T) {
	reg, srv := newTestRegistry(t, okChatHandler("response text", 100, 50))
	defer srv.Close()

	in, out := 1.0, 2.0
	limit := 100000
	o := New(reg, fakeAliases{}, fakeMetadata{limits: &ModelLimits{ContextLength: &limit, InputPricePerM: &in, OutputPricePerM: &out}}, nil, testLogger())

	result, err := o.SendChat(context.Background(), Request{Provider: "openai", Model: "gpt-4o", Prompt: "hi"})
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	want := 100*1.0/1e6 + 50*2.0/1e6
	if result.EstimatedCostUSD != want {
		t.Errorf("EstimatedCostUSD = %v, want %v", result.EstimatedCostUSD, want)
	}
}

func TestSendChatPersistFailureIsNonFatal(t *testing.T) {
	reg, srv := newTestRegistry(t, okChatHandler("ok", 1, 1))
	defer srv.Close()

	store := &fakeStore{err: context.DeadlineExceeded}
	o := New(reg, fakeAliases{}, nil, store, testLogger())

	if _, err := o.SendChat(context.Background(), Request{Provider: "openai", Model: "gpt-4o", Prompt: "hi"}); err != nil {
		t.Fatalf("SendChat should succeed even if persistence fails, got %v", err)
	}
}

func TestSendChatStreamPersistsAccumulatedTextNotPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo ", "world"} {
			body, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": chunk}}}})
			w.Write([]byte("data: " + string(body) + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p := core.Provider{Name: "openai", Endpoint: srv.URL, Templates: core.EndpointTemplateSet{Chat: provider.DefaultOpenAITemplates()}}
	client := provider.New(p, core.Credential{Kind: core.CredentialAPIKey, APIKey: "sk-test"}, transport.NewPools(nil), tmpl.New(), nil)
	reg := provider.NewRegistry()
	reg.Register("openai", client)

	store := &fakeStore{}
	o := New(reg, fakeAliases{}, nil, store, testLogger())

	var deltas []string
	result, err := o.SendChatStream(context.Background(), Request{ChatID: "chat-2", Provider: "openai", Model: "gpt-4o", Prompt: "hi"},
		func() {}, func(text string) { deltas = append(deltas, text) })
	if err != nil {
		t.Fatalf("SendChatStream: %v", err)
	}
	if got := result.Response.Message.Content.PlainText(); got != "Hello world" {
		t.Errorf("accumulated text = %q, want %q", got, "Hello world")
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(store.entries))
	}
	if store.entries[0].Response != "Hello world" {
		t.Errorf("persisted response = %q, want the full accumulated streamed text, not a placeholder", store.entries[0].Response)
	}
}
