package toolloop

import (
	"encoding/json"
	"testing"
)

func TestValidateArgumentsRequiredField(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	if err := validateArguments(map[string]any{}, schema); err == nil {
		t.Fatal("expected error for missing required field")
	}
	if err := validateArguments(map[string]any{"city": "nyc"}, schema); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateArgumentsIntegerRejectsFraction(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}}}`)
	if err := validateArguments(map[string]any{"count": 3.5}, schema); err == nil {
		t.Fatal("expected error for fractional integer")
	}
	if err := validateArguments(map[string]any{"count": 3.0}, schema); err != nil {
		t.Errorf("unexpected error for whole-number integer: %v", err)
	}
}

func TestValidateArgumentsIntegerDistinctFromNumber(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"price":{"type":"number"}}}`)
	if err := validateArguments(map[string]any{"price": 3.5}, schema); err != nil {
		t.Errorf("number should accept a fractional value: %v", err)
	}
}

func TestValidateArgumentsEnum(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"unit":{"type":"string","enum":["celsius","fahrenheit"]}}}`)
	if err := validateArguments(map[string]any{"unit": "kelvin"}, schema); err == nil {
		t.Fatal("expected error for value outside enum")
	}
	if err := validateArguments(map[string]any{"unit": "celsius"}, schema); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateArgumentsNoSchemaAlwaysValid(t *testing.T) {
	if err := validateArguments(map[string]any{"anything": "goes"}, nil); err != nil {
		t.Errorf("unexpected error with no schema: %v", err)
	}
}
