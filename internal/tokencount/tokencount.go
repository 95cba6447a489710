// Package tokencount implements the Token Counter (C3): deterministic
// token estimation for text and chat histories, and truncate-to-fit
// logic for context-limited providers.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/maypok86/otter/v2"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultMaxOutputTokens = 4096
	bufferReserve          = 100
	systemOverhead         = 4
	messageOverhead        = 4
	historyPairOverhead    = 8
)

// HistoryEntry is one prior prompt/response round.
type HistoryEntry struct {
	Prompt   string
	Response string
}

// Counter estimates token counts for one model's encoder. Construction
// never fails outright: an unrecognized model name falls back to the
// cl100k_base encoding, per spec's determinism-not-accuracy requirement.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
}

var (
	encMu    sync.RWMutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// NewCounter returns a Counter for model, reusing a cached encoder when
// one has already been resolved for that model name.
func NewCounter(model string) *Counter {
	return &Counter{model: model, enc: encoderFor(model)}
}

func encoderFor(model string) *tiktoken.Tiktoken {
	encMu.RLock()
	if enc, ok := encCache[model]; ok {
		encMu.RUnlock()
		return enc
	}
	encMu.RUnlock()

	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Should never fail; tiktoken-go embeds cl100k_base's BPE
			// ranks. If it somehow does, counts fall back to countRaw's
			// length heuristic.
			enc = nil
		}
	}
	encCache[model] = enc
	return enc
}

// resultCache is a bounded LRU of plain-text token counts, keyed by
// "<model>\x00<text>".
var resultCache = mustCache[string, int](50_000)

func mustCache[K comparable, V any](size int) *otter.Cache[K, V] {
	c, err := otter.New[K, V](&otter.Options[K, V]{MaximumSize: size})
	if err != nil {
		panic(fmt.Sprintf("tokencount: create cache: %v", err))
	}
	return c
}

// CountText returns the deterministic token count for text under this
// Counter's encoder.
func (c *Counter) CountText(text string) int {
	key := c.model + "\x00" + text
	if n, ok := resultCache.GetIfPresent(key); ok {
		return n
	}
	n := c.countRaw(text)
	resultCache.Set(key, n)
	return n
}

func (c *Counter) countRaw(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateChatTokens estimates the total token count for a prompt, an
// optional system message, and a chat history, following spec's
// per-message overhead (system +4, user/assistant +4 each, history pair
// +8) plus a +100 buffer reserve.
func (c *Counter) EstimateChatTokens(prompt, system string, history []HistoryEntry) int {
	total := bufferReserve
	if system != "" {
		total += c.CountText(system) + systemOverhead
	}
	for _, h := range history {
		total += c.CountText(h.Prompt) + c.CountText(h.Response) + historyPairOverhead
	}
	total += c.CountText(prompt) + messageOverhead
	return total
}

// ExceedsContextLimit reports whether the estimate for (prompt, system,
// history) exceeds limit.
func (c *Counter) ExceedsContextLimit(prompt, system string, history []HistoryEntry, limit int) bool {
	return c.EstimateChatTokens(prompt, system, history) > limit
}

// TruncateResult is the outcome of TruncateToFit.
type TruncateResult struct {
	Prompt    string
	History   []HistoryEntry
	Truncated bool // true if the prompt was shortened or any history entries were dropped
}

// TruncateToFit reserves maxOutputTokens (default 4096) from
// contextLimit, then always keeps the system prompt and current prompt;
// if the prompt alone does not fit, it is truncated to what is left of
// available after the 100-token reserve, the system prompt and the
// prompt's message overhead, and all history is dropped. Otherwise history entries are kept
// from most recent backwards while each still fits, returned as a
// contiguous suffix in original chronological order.
func (c *Counter) TruncateToFit(prompt, system string, history []HistoryEntry, contextLimit int, maxOutputTokens *int) TruncateResult {
	maxOut := defaultMaxOutputTokens
	if maxOutputTokens != nil {
		maxOut = *maxOutputTokens
	}
	available := contextLimit - maxOut

	base := 0
	if system != "" {
		base = c.CountText(system) + systemOverhead
	}
	promptTokens := c.CountText(prompt) + messageOverhead

	if base+promptTokens+bufferReserve > available {
		budget := available - bufferReserve - base - messageOverhead
		return TruncateResult{
			Prompt:    c.truncateText(prompt, budget),
			History:   nil,
			Truncated: true,
		}
	}

	remaining := available - base - promptTokens - bufferReserve
	var kept []HistoryEntry
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := c.CountText(history[i].Prompt) + c.CountText(history[i].Response) + historyPairOverhead
		if used+cost > remaining {
			break
		}
		used += cost
		kept = append([]HistoryEntry{history[i]}, kept...)
	}

	return TruncateResult{
		Prompt:    prompt,
		History:   kept,
		Truncated: len(kept) != len(history),
	}
}

// truncateText cuts text down to at most budget tokens by encoding and
// re-decoding a prefix of the token stream. budget <= 0 yields "".
func (c *Counter) truncateText(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if c.enc == nil {
		max := budget * 4
		if max >= len(text) {
			return text
		}
		return text[:max]
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return c.enc.Decode(tokens[:budget])
}
