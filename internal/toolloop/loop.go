// Package toolloop implements the Tool Loop (C11): iterate model/tool-
// server turns, validating arguments and dispatching concurrent tool
// calls with per-call timeouts, until the model returns final content
// or max_iterations is exhausted.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	core "github.com/go-lcgw/lcgw/internal"
)

const (
	defaultMaxIterations = 10
	toolCallTimeout      = 30 * time.Second
	maxResultBytes       = 10_000
	imageTokenCost       = 85
)

// ToolInfo describes one tool exposed by a tool server.
type ToolInfo struct {
	Name        string
	Description string
}

// ToolServer is the Tool-Server RPC Client (C12) surface the loop needs.
type ToolServer interface {
	ListTools(ctx context.Context, server string) ([]ToolInfo, error)
	CallTool(ctx context.Context, server, tool string, arguments json.RawMessage) (string, error)
}

// ChatCaller is the subset of the Provider Client (C9) the loop drives;
// satisfied directly by *provider.Client.
type ChatCaller interface {
	ChatCompletion(ctx context.Context, req core.CanonicalChatRequest) (*core.CanonicalChatResponse, error)
}

// Loop runs one tool-augmented chat to completion.
type Loop struct {
	chat    ChatCaller
	servers ToolServer
	log     zerolog.Logger
}

// New returns a Loop.
func New(chat ChatCaller, servers ToolServer, log zerolog.Logger) *Loop {
	return &Loop{chat: chat, servers: servers, log: log}
}

// Options configures one Run.
type Options struct {
	Model         string
	Tools         []core.ToolDefinition
	ServerNames   []string
	MaxIterations int // 0 means defaultMaxIterations
	MaxTokens     *int
	Temperature   *float64
}

// Result is the outcome of a completed tool loop.
type Result struct {
	Response     *core.CanonicalChatResponse
	Messages     []core.CanonicalMessage
	InputTokens  int
	OutputTokens int
}

// Run iterates messages through the model, dispatching any tool calls
// it emits, until final content is produced or max_iterations rounds
// pass without one, per spec §4.9.
func (l *Loop) Run(ctx context.Context, messages []core.CanonicalMessage, opts Options) (*Result, error) {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	toolServers := l.resolveToolServers(ctx, opts.ServerNames)
	schemas := make(map[string]json.RawMessage, len(opts.Tools))
	for _, t := range opts.Tools {
		schemas[t.Name] = t.Parameters
	}

	result := &Result{}
	for iteration := 0; iteration < maxIterations; iteration++ {
		result.InputTokens += estimateMessagesTokens(messages)

		resp, err := l.chat.ChatCompletion(ctx, core.CanonicalChatRequest{
			Model:       opts.Model,
			Messages:    messages,
			Tools:       opts.Tools,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
		if err != nil {
			return nil, err
		}
		result.OutputTokens += estimateText(resp.Message.Content.PlainText())

		if len(resp.Message.ToolCalls) > 0 {
			messages = append(messages, core.CanonicalMessage{
				Role:      core.RoleAssistant,
				Content:   resp.Message.Content,
				ToolCalls: resp.Message.ToolCalls,
			})
			toolMessages := l.dispatchRound(ctx, resp.Message.ToolCalls, toolServers, schemas)
			messages = append(messages, toolMessages...)
			continue
		}

		if text := resp.Message.Content.PlainText(); text != "" {
			result.Response = resp
			result.Messages = messages
			return result, nil
		}

		return nil, fmt.Errorf("tool loop: response contained neither content nor tool calls")
	}

	return nil, &core.IterationLimitError{MaxIterations: maxIterations}
}

// resolveToolServers builds a tool_name -> server map by calling
// list_tools on each target, best-effort: a server that fails to
// respond is skipped and left out of the map. Tools missing from the
// map go through callOne's try-every-server path, which only tries
// servers present in the map, so a skipped server is never called.
func (l *Loop) resolveToolServers(ctx context.Context, serverNames []string) map[string]string {
	byTool := make(map[string]string)
	for _, server := range serverNames {
		tools, err := l.servers.ListTools(ctx, server)
		if err != nil {
			l.log.Warn().Str("server", server).Err(err).Msg("list_tools failed, skipping this server")
			continue
		}
		for _, t := range tools {
			byTool[t.Name] = server
		}
	}
	return byTool
}

// dispatchRound runs every tool call in calls concurrently (fan-out via
// errgroup) and returns tool-result messages in the original call
// order, per spec §5's ordering guarantee.
func (l *Loop) dispatchRound(ctx context.Context, calls []core.ToolCall, toolServers map[string]string, schemas map[string]json.RawMessage) []core.CanonicalMessage {
	results := make([]string, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = l.callOne(gctx, call, toolServers, schemas[call.Function.Name])
			return nil
		})
	}
	_ = g.Wait() // callOne never returns an error; failures are encoded as result text

	out := make([]core.CanonicalMessage, len(calls))
	for i, call := range calls {
		out[i] = core.CanonicalMessage{
			Role:       core.RoleTool,
			Content:    core.TextContent(results[i]),
			ToolCallID: call.ID,
		}
	}
	return out
}

// callOne validates arguments, dispatches to the mapped server (or every
// known server when the tool wasn't found by list_tools) with a
// per-call timeout, and formats the result text. Validation, timeout,
// not-found, and RPC failures all return a structured error string
// rather than propagating, so one bad call never aborts the round.
func (l *Loop) callOne(ctx context.Context, call core.ToolCall, toolServers map[string]string, schema json.RawMessage) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return toolErrorText(&core.ToolError{Kind: core.ToolErrorArgumentsInvalid, Tool: call.Function.Name, Err: err})
	}
	if err := validateArguments(args, schema); err != nil {
		return toolErrorText(&core.ToolError{Kind: core.ToolErrorArgumentsInvalid, Tool: call.Function.Name, Err: err})
	}

	server, known := toolServers[call.Function.Name]
	candidates := []string{server}
	if !known {
		candidates = allServers(toolServers)
	}
	if len(candidates) == 0 {
		return toolErrorText(&core.ToolError{Kind: core.ToolErrorNotFound, Tool: call.Function.Name})
	}

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	argsJSON, _ := json.Marshal(args)

	var lastErr error
	for _, candidate := range candidates {
		raw, err := l.servers.CallTool(callCtx, candidate, call.Function.Name, argsJSON)
		if err == nil {
			return truncateResult(raw)
		}
		lastErr = err
	}

	if callCtx.Err() != nil {
		return toolErrorText(&core.ToolError{Kind: core.ToolErrorTimeout, Tool: call.Function.Name})
	}
	return toolErrorText(&core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: call.Function.Name, Err: lastErr})
}

func toolErrorText(err *core.ToolError) string { return "error: " + err.Error() }

func allServers(toolServers map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range toolServers {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// truncateResult caps raw at maxResultBytes, appending an explicit
// marker noting the original size when it had to cut.
func truncateResult(raw string) string {
	if len(raw) <= maxResultBytes {
		return raw
	}
	return fmt.Sprintf("%s\n...[truncated, original size %d bytes]", raw[:maxResultBytes], len(raw))
}

// estimateMessagesTokens sums a rough per-message token estimate: text
// length / 4 plus a flat cost per image part, per spec §4.9's
// "images count as +85 tokens each".
func estimateMessagesTokens(messages []core.CanonicalMessage) int {
	total := 0
	for _, m := range messages {
		if m.Content.IsMultimodal() {
			for _, p := range m.Content.Parts {
				if p.Type == core.ContentImage {
					total += imageTokenCost
				} else {
					total += estimateText(p.Text)
				}
			}
		} else {
			total += estimateText(m.Content.PlainText())
		}
	}
	return total
}

func estimateText(s string) int {
	return (len(s) + 3) / 4
}
