package template

import (
	"encoding/json"
	"reflect"
	"text/template"
)

// builtinFuncs is the closed filter set spec §4.4 requires: json,
// default, selectattr, fromJson, selectToolCalls, baseMessages,
// geminiRole, systemToUserRole, anthropicMessages, geminiMessages.
// Registered up front; the set never grows per-request.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"json":            jsonFilter,
		"default":         defaultFilter,
		"selectattr":      selectattrFilter,
		"fromJson":        fromJSONFilter,
		"selectToolCalls": selectToolCallsFilter,
		"baseMessages":    baseMessagesFilter,
		"geminiRole":      geminiRoleFilter,
		"systemToUserRole": systemToUserRoleFilter,
		"anthropicMessages": anthropicMessagesFilter,
		"geminiMessages":    geminiMessagesFilter,
	}
}

// jsonFilter stringifies v as compact JSON, for embedding a Go value
// directly into a template's JSON output.
func jsonFilter(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// defaultFilter returns v unless it is the zero value (nil, "", 0,
// false, or an empty slice/map), in which case it returns def. Invoked
// as {{ .Foo | default "fallback" }}.
func defaultFilter(def, v any) any {
	if isZero(v) {
		return def
	}
	return v
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Float64, reflect.Float32:
		return rv.Float() == 0
	case reflect.Int, reflect.Int64, reflect.Int32:
		return rv.Int() == 0
	default:
		return false
	}
}

// selectattrFilter filters a list of maps, keeping only those whose
// attr field equals value.
func selectattrFilter(list []any, attr string, value any) []any {
	var out []any
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if reflect.DeepEqual(m[attr], value) {
			out = append(out, item)
		}
	}
	return out
}

// fromJSONFilter parses a JSON string into a generic Go value.
func fromJSONFilter(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// selectToolCallsFilter extracts the tool_calls array (under key, or
// "tool_calls" by default) from the first message that carries one.
func selectToolCallsFilter(messages []any, key string) []any {
	if key == "" {
		key = "tool_calls"
	}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if tc, ok := msg[key].([]any); ok && len(tc) > 0 {
			return tc
		}
	}
	return nil
}

// baseMessagesFilter strips null/empty optional fields from each
// message map, leaving only role/content/tool_calls/tool_call_id/name
// when populated.
func baseMessagesFilter(messages []any) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			out = append(out, m)
			continue
		}
		clean := map[string]any{}
		for _, k := range []string{"role", "content", "tool_calls", "tool_call_id", "name"} {
			if v, ok := msg[k]; ok && !isZero(v) {
				clean[k] = v
			}
		}
		out = append(out, clean)
	}
	return out
}

// geminiRoleFilter maps a canonical role to Gemini's role vocabulary:
// user -> user, assistant -> model, system -> user.
func geminiRoleFilter(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "system":
		return "user"
	default:
		return role
	}
}

// systemToUserRoleFilter maps system -> user, leaving other roles
// unchanged, for providers with no distinct system role.
func systemToUserRoleFilter(role string) string {
	if role == "system" {
		return "user"
	}
	return role
}

// anthropicMessagesFilter reshapes canonical messages into Anthropic's
// content-block array form: each message's content becomes a list of
// typed blocks ({"type":"text",...} or {"type":"image",...} with a
// base64 or url source).
func anthropicMessagesFilter(messages []any) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			out = append(out, m)
			continue
		}
		blocks := toContentBlocks(msg["content"], func(part map[string]any) map[string]any {
			if part["type"] == "image" {
				block := map[string]any{"type": "image"}
				if b64, ok := part["base64"].(string); ok && b64 != "" {
					block["source"] = map[string]any{
						"type":       "base64",
						"media_type": part["mime"],
						"data":       b64,
					}
				} else {
					block["source"] = map[string]any{"type": "url", "url": part["url"]}
				}
				return block
			}
			return map[string]any{"type": "text", "text": part["text"]}
		})
		reshaped := map[string]any{"role": msg["role"], "content": blocks}
		if tc, ok := msg["tool_calls"]; ok && !isZero(tc) {
			reshaped["tool_calls"] = tc
		}
		if id, ok := msg["tool_call_id"]; ok && !isZero(id) {
			reshaped["tool_call_id"] = id
		}
		out = append(out, reshaped)
	}
	return out
}

// geminiMessagesFilter reshapes canonical messages into Gemini's
// {"role":..., "parts":[{"text":...}|{"inlineData":{...}}]} shape.
func geminiMessagesFilter(messages []any) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			out = append(out, m)
			continue
		}
		parts := toContentBlocks(msg["content"], func(part map[string]any) map[string]any {
			if part["type"] == "image" {
				return map[string]any{
					"inlineData": map[string]any{
						"mimeType": part["mime"],
						"data":     part["base64"],
					},
				}
			}
			return map[string]any{"text": part["text"]}
		})
		role, _ := msg["role"].(string)
		out = append(out, map[string]any{"role": geminiRoleFilter(role), "parts": parts})
	}
	return out
}

// toContentBlocks normalizes a message's content field (either a plain
// string or a slice of multimodal parts) into a slice of converted
// blocks via convert.
func toContentBlocks(content any, convert func(part map[string]any) map[string]any) []any {
	switch c := content.(type) {
	case string:
		return []any{convert(map[string]any{"type": "text", "text": c})}
	case []any:
		out := make([]any, 0, len(c))
		for _, p := range c {
			if part, ok := p.(map[string]any); ok {
				out = append(out, convert(part))
			}
		}
		return out
	default:
		return nil
	}
}
