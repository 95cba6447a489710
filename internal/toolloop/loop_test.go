package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	core "github.com/go-lcgw/lcgw/internal"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type scriptedChat struct {
	responses []*core.CanonicalChatResponse
	calls     int
}

func (s *scriptedChat) ChatCompletion(ctx context.Context, req core.CanonicalChatRequest) (*core.CanonicalChatResponse, error) {
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("scriptedChat: no more responses queued")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeServers struct {
	tools    map[string][]ToolInfo
	results  map[string]string
	failWith error
}

func (f *fakeServers) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	return f.tools[server], nil
}

func (f *fakeServers) CallTool(ctx context.Context, server, tool string, arguments json.RawMessage) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	return f.results[tool], nil
}

func toolCall(id, name, arguments string) core.ToolCall {
	return core.ToolCall{ID: id, CallType: "function", Function: core.ToolFunction{Name: name, Arguments: arguments}}
}

func TestRunReturnsFinalContentWithoutToolCalls(t *testing.T) {
	chat := &scriptedChat{responses: []*core.CanonicalChatResponse{
		{Message: core.CanonicalMessage{Role: core.RoleAssistant, Content: core.TextContent("the answer is 42")}},
	}}
	servers := &fakeServers{tools: map[string][]ToolInfo{}}
	loop := New(chat, servers, testLogger())

	result, err := loop.Run(context.Background(), []core.CanonicalMessage{
		{Role: core.RoleUser, Content: core.TextContent("what is the answer")},
	}, Options{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Response.Message.Content.PlainText() != "the answer is 42" {
		t.Errorf("content = %q", result.Response.Message.Content.PlainText())
	}
}

func TestRunDispatchesToolCallsAndFeedsResultsBack(t *testing.T) {
	chat := &scriptedChat{responses: []*core.CanonicalChatResponse{
		{Message: core.CanonicalMessage{
			Role:      core.RoleAssistant,
			ToolCalls: []core.ToolCall{toolCall("call_1", "get_weather", `{"city":"nyc"}`)},
		}},
		{Message: core.CanonicalMessage{Role: core.RoleAssistant, Content: core.TextContent("it is sunny")}},
	}}
	servers := &fakeServers{
		tools:   map[string][]ToolInfo{"weather-server": {{Name: "get_weather"}}},
		results: map[string]string{"get_weather": "sunny, 72F"},
	}
	loop := New(chat, servers, testLogger())

	result, err := loop.Run(context.Background(), []core.CanonicalMessage{
		{Role: core.RoleUser, Content: core.TextContent("weather in nyc?")},
	}, Options{Model: "gpt-4o", ServerNames: []string{"weather-server"},
		Tools: []core.ToolDefinition{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Response.Message.Content.PlainText() != "it is sunny" {
		t.Errorf("final content = %q", result.Response.Message.Content.PlainText())
	}

	var toolMsg *core.CanonicalMessage
	for i := range result.Messages {
		if result.Messages[i].Role == core.RoleTool {
			toolMsg = &result.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("expected a tool-result message in the conversation")
	}
	if toolMsg.Content.PlainText() != "sunny, 72F" {
		t.Errorf("tool result content = %q", toolMsg.Content.PlainText())
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", toolMsg.ToolCallID)
	}
}

func TestRunValidationFailureProducesStructuredErrorNotAbort(t *testing.T) {
	chat := &scriptedChat{responses: []*core.CanonicalChatResponse{
		{Message: core.CanonicalMessage{
			Role:      core.RoleAssistant,
			ToolCalls: []core.ToolCall{toolCall("call_1", "get_weather", `{"city":123}`)},
		}},
		{Message: core.CanonicalMessage{Role: core.RoleAssistant, Content: core.TextContent("could not get weather")}},
	}}
	servers := &fakeServers{tools: map[string][]ToolInfo{}}
	loop := New(chat, servers, testLogger())

	result, err := loop.Run(context.Background(), nil, Options{Model: "gpt-4o",
		Tools: []core.ToolDefinition{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var toolMsg *core.CanonicalMessage
	for i := range result.Messages {
		if result.Messages[i].Role == core.RoleTool {
			toolMsg = &result.Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.Content.PlainText() == "" {
		t.Fatal("expected a structured error result for the failed validation, not an abort")
	}
}

func TestRunRaisesIterationLimitError(t *testing.T) {
	var responses []*core.CanonicalChatResponse
	for i := 0; i < 3; i++ {
		responses = append(responses, &core.CanonicalChatResponse{Message: core.CanonicalMessage{
			Role:      core.RoleAssistant,
			ToolCalls: []core.ToolCall{toolCall(fmt.Sprintf("call_%d", i), "noop", `{}`)},
		}})
	}
	chat := &scriptedChat{responses: responses}
	servers := &fakeServers{tools: map[string][]ToolInfo{}, results: map[string]string{"noop": "done"}}
	loop := New(chat, servers, testLogger())

	_, err := loop.Run(context.Background(), nil, Options{Model: "gpt-4o", MaxIterations: 3,
		Tools: []core.ToolDefinition{{Name: "noop"}}})
	var iterErr *core.IterationLimitError
	if err == nil {
		t.Fatal("expected IterationLimitError")
	}
	if ie, ok := err.(*core.IterationLimitError); !ok {
		t.Fatalf("got %T, want *core.IterationLimitError", err)
	} else {
		iterErr = ie
	}
	if iterErr.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d", iterErr.MaxIterations)
	}
}

func TestRunErrorsWhenResponseHasNeitherContentNorCalls(t *testing.T) {
	chat := &scriptedChat{responses: []*core.CanonicalChatResponse{
		{Message: core.CanonicalMessage{Role: core.RoleAssistant}},
	}}
	servers := &fakeServers{tools: map[string][]ToolInfo{}}
	loop := New(chat, servers, testLogger())

	if _, err := loop.Run(context.Background(), nil, Options{Model: "gpt-4o"}); err == nil {
		t.Fatal("expected an error for empty response")
	}
}
