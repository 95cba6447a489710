package toolloop

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateArguments checks args (a decoded JSON object) against schema
// (a JSON Schema document), per spec §4.9: every required field present,
// every present field's type correct (integer distinct from number,
// integer accepting a numeric value with zero fractional part), enum
// values honored.
//
// jsonschema/v6 is tried first for full schema semantics ($ref, oneOf,
// format, nested definitions); a schema without a top-level $schema is
// compiled under the library's default draft. When schema does not
// compile, validateHandRolled covers the same required/type/enum
// surface directly.
func validateArguments(args map[string]any, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err == nil {
		if compiled, err := c.Compile("tool.json"); err == nil {
			if err := compiled.Validate(toAny(args)); err != nil {
				return err
			}
			return nil
		}
	}

	schemaMap, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	return validateHandRolled(args, schemaMap)
}

func toAny(args map[string]any) any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// validateHandRolled covers required/type/enum for callers whose schema
// isn't a fully compilable JSON Schema document. Ported from
// beeper-ai-bridge's ValidateInput/validateValue/getJSONType, which
// makes the integer/number distinction explicit instead of treating
// both as "number".
func validateHandRolled(args map[string]any, schema map[string]any) error {
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required parameter: %s", name)
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for name, value := range args {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(name, value, propSchema); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, value any, schema map[string]any) error {
	if value == nil {
		return nil
	}
	expectedType, ok := schema["type"].(string)
	if !ok {
		return nil
	}

	actualType := jsonType(value)
	switch expectedType {
	case "string":
		if actualType != "string" {
			return fmt.Errorf("parameter %s: expected string, got %s", name, actualType)
		}
	case "number":
		if actualType != "number" {
			return fmt.Errorf("parameter %s: expected number, got %s", name, actualType)
		}
	case "integer":
		if actualType != "number" {
			return fmt.Errorf("parameter %s: expected integer, got %s", name, actualType)
		}
		if n, ok := value.(float64); ok && n != float64(int64(n)) {
			return fmt.Errorf("parameter %s: expected integer, got a fractional number", name)
		}
	case "boolean":
		if actualType != "boolean" {
			return fmt.Errorf("parameter %s: expected boolean, got %s", name, actualType)
		}
	case "array":
		if actualType != "array" {
			return fmt.Errorf("parameter %s: expected array, got %s", name, actualType)
		}
	case "object":
		if actualType != "object" {
			return fmt.Errorf("parameter %s: expected object, got %s", name, actualType)
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		found := false
		for _, e := range enum {
			if fmt.Sprint(e) == fmt.Sprint(value) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("parameter %s: value not in allowed enum", name)
		}
	}
	return nil
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64, int32:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
