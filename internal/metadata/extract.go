// Package metadata implements the Metadata Extractor (C4) and Metadata
// Cache (C5): parsing heterogeneous provider model listings into
// canonical ModelMetadata records via configurable JSON paths and tag
// rules, and caching the result per provider with a 24h freshness
// policy.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	core "github.com/go-lcgw/lcgw/internal"
)

// PathsConfig is the editable extraction-path configuration: an ordered
// list of JSON paths used to locate the array (or object) of raw model
// records in a provider's listing response, plus priority lists for
// resolving a model's id and display name.
type PathsConfig struct {
	ModelPaths []string `yaml:"model_paths"`
	IDFields   []string `yaml:"id_fields"`
	NameFields []string `yaml:"name_fields"`
}

// DefaultPathsConfig returns the engine's materialized defaults, used
// when no on-disk paths config exists yet.
func DefaultPathsConfig() PathsConfig {
	return PathsConfig{
		ModelPaths: []string{"data", "models", "."},
		IDFields:   []string{"id", "model", "name"},
		NameFields: []string{"display_name", "name", "id"},
	}
}

// ValueType tags the expected JSON type of a tag's extracted value.
type ValueType string

const (
	ValueU32    ValueType = "u32"
	ValueF64    ValueType = "f64"
	ValueBool   ValueType = "bool"
	ValueString ValueType = "string"
)

// Transform names a post-extraction numeric transform.
type Transform string

const (
	TransformNone           Transform = ""
	TransformMultiplyMillion Transform = "multiply_million"
)

// TagRule maps one canonical metadata field to an ordered list of
// extraction paths (including pseudo-paths like @name_contains("x") and
// @name_matches(regex)), its expected value type, and an optional
// transform.
type TagRule struct {
	Paths     []string  `yaml:"paths"`
	ValueType ValueType `yaml:"value_type"`
	Transform Transform `yaml:"transform,omitempty"`
}

// TagsConfig is the editable field -> TagRule mapping.
type TagsConfig map[string]TagRule

// DefaultTagsConfig returns the engine's materialized default tag
// rules, covering the capability booleans and numeric fields spec.md
// names.
func DefaultTagsConfig() TagsConfig {
	return TagsConfig{
		"context_length":     {Paths: []string{"context_length", "context_window", "top_provider.context_length"}, ValueType: ValueU32},
		"max_output_tokens":  {Paths: []string{"max_output_tokens", "top_provider.max_completion_tokens"}, ValueType: ValueU32},
		"input_price_per_m":  {Paths: []string{"pricing.prompt", "pricing.input"}, ValueType: ValueF64, Transform: TransformMultiplyMillion},
		"output_price_per_m": {Paths: []string{"pricing.completion", "pricing.output"}, ValueType: ValueF64, Transform: TransformMultiplyMillion},
		"supports_tools":     {Paths: []string{"supports_tools", "supports_function_calling", `@name_contains("tool")`}, ValueType: ValueBool},
		"supports_vision":    {Paths: []string{"supports_vision", "architecture.modality", `@name_contains("vision")`, `@name_contains("flux")`}, ValueType: ValueBool},
		"supports_audio":     {Paths: []string{"supports_audio"}, ValueType: ValueBool},
		"supports_reasoning": {Paths: []string{"supports_reasoning", `@name_contains("reasoning")`}, ValueType: ValueBool},
		"supports_code":      {Paths: []string{"supports_code", `@name_contains("code")`}, ValueType: ValueBool},
		"supports_functions": {Paths: []string{"supports_function_calling"}, ValueType: ValueBool},
		"supports_json_mode": {Paths: []string{"supports_json_mode", "supports_response_format"}, ValueType: ValueBool},
		"supports_streaming": {Paths: []string{"supports_streaming"}, ValueType: ValueBool},
		"deprecated":         {Paths: []string{"deprecated"}, ValueType: ValueBool},
	}
}

var typeKeywords = []struct {
	kind     string
	patterns []string
}{
	{"Embedding", []string{"embed"}},
	{"ImageGeneration", []string{"dall-e", "image", "stable-diffusion", "sdxl"}},
	{"AudioGeneration", []string{"whisper", "tts", "audio", "speech"}},
	{"Moderation", []string{"moderation"}},
	{"Completion", []string{"instruct", "completion"}},
}

// inferModelType applies keyword patterns to id and name, falling back
// to Chat. Deterministic: the same id/name always yields the same type.
func inferModelType(id, name string) core.ModelType {
	haystack := strings.ToLower(id + " " + name)
	for _, tk := range typeKeywords {
		for _, p := range tk.patterns {
			if strings.Contains(haystack, p) {
				switch tk.kind {
				case "Embedding":
					return core.ModelTypeEmbedding
				case "ImageGeneration":
					return core.ModelTypeImageGeneration
				case "AudioGeneration":
					return core.ModelTypeAudioGeneration
				case "Moderation":
					return core.ModelTypeModeration
				case "Completion":
					return core.ModelTypeCompletion
				}
			}
		}
	}
	return core.ModelTypeChat
}

// Extract parses a provider's raw model-listing JSON into canonical
// ModelMetadata records, per spec.md §4.3.
func Extract(raw []byte, provider string, paths PathsConfig, tags TagsConfig) ([]core.ModelMetadata, error) {
	candidates := collectCandidates(raw, paths.ModelPaths)

	var out []core.ModelMetadata
	for _, cand := range candidates {
		out = append(out, expandCandidate(cand, provider, paths, tags)...)
	}
	return out, nil
}

// collectCandidates applies each configured model path to raw and
// unions the results, tolerating a bare object when it itself contains
// a configured id field.
func collectCandidates(raw []byte, modelPaths []string) []gjson.Result {
	var out []gjson.Result
	seen := map[string]bool{}
	for _, path := range modelPaths {
		var result gjson.Result
		if path == "." {
			result = gjson.ParseBytes(raw)
		} else {
			result = gjson.GetBytes(raw, path)
		}
		if !result.Exists() {
			continue
		}
		if result.IsArray() {
			for _, r := range result.Array() {
				key := r.Raw
				if !seen[key] {
					seen[key] = true
					out = append(out, r)
				}
			}
		} else if result.IsObject() {
			key := result.Raw
			if !seen[key] {
				seen[key] = true
				out = append(out, result)
			}
		}
	}
	return out
}

// expandCandidate turns one raw model object into one or more
// ModelMetadata records, fanning out HuggingFace-style "providers"
// arrays into per-sub-provider records.
func expandCandidate(cand gjson.Result, provider string, paths PathsConfig, tags TagsConfig) []core.ModelMetadata {
	id := firstNonEmpty(cand, paths.IDFields)
	if id == "" {
		return nil
	}

	if subs := cand.Get("providers"); subs.Exists() && subs.IsArray() {
		var out []core.ModelMetadata
		for _, sub := range subs.Array() {
			subName := sub.Get("provider").String()
			if subName == "" {
				subName = sub.Get("name").String()
			}
			m := buildMetadata(cand, provider, id+":"+subName, paths, tags)
			out = append(out, m)
		}
		return out
	}

	return []core.ModelMetadata{buildMetadata(cand, provider, id, paths, tags)}
}

func firstNonEmpty(cand gjson.Result, fields []string) string {
	for _, f := range fields {
		if v := cand.Get(f).String(); v != "" {
			return v
		}
	}
	return ""
}

func buildMetadata(cand gjson.Result, provider, id string, paths PathsConfig, tags TagsConfig) core.ModelMetadata {
	name := firstNonEmpty(cand, paths.NameFields)

	m := core.ModelMetadata{
		ID:          id,
		Provider:    provider,
		DisplayName: name,
		RawData:     []byte(cand.Raw),
	}

	for field, rule := range tags {
		applyTag(&m, cand, id, name, field, rule)
	}

	m.ModelType = inferModelType(id, name)
	m.LastSeen = time.Now()
	return m
}

// applyTag walks a tag rule's paths against cand (plus id/name for
// pseudo-paths), writing the resolved value into the matching field of
// m. For booleans: any true wins immediately; a false is remembered but
// yields to a later true; if every path is null, the field is left
// absent (nil). For non-booleans: the first non-null value wins, with
// any configured transform applied.
func applyTag(m *core.ModelMetadata, cand gjson.Result, id, name, field string, rule TagRule) {
	switch rule.ValueType {
	case ValueBool:
		var sawFalse bool
		var result *bool
		for _, p := range rule.Paths {
			v, ok := evalPseudoOrPath(cand, id, name, p)
			if !ok {
				continue
			}
			b, isBool := toBool(v)
			if !isBool {
				continue
			}
			if b {
				t := true
				result = &t
				break
			}
			sawFalse = true
		}
		if result == nil && sawFalse {
			f := false
			result = &f
		}
		setBoolField(m, field, result)
	default:
		for _, p := range rule.Paths {
			v, ok := evalPseudoOrPath(cand, id, name, p)
			if !ok {
				continue
			}
			setValueField(m, field, v, rule)
			return
		}
	}
}

var (
	nameContainsRe = regexp.MustCompile(`^@name_contains\("([^"]*)"\)$`)
	nameMatchesRe  = regexp.MustCompile(`^@name_matches\("?([^")]*)"?\)$`)
)

// evalPseudoOrPath resolves either a @name_contains/@name_matches
// pseudo-path against id/name, or a plain gjson path against cand.
func evalPseudoOrPath(cand gjson.Result, id, name, path string) (any, bool) {
	if m := nameContainsRe.FindStringSubmatch(path); m != nil {
		needle := strings.ToLower(m[1])
		haystack := strings.ToLower(id + " " + name)
		return strings.Contains(haystack, needle), true
	}
	if m := nameMatchesRe.FindStringSubmatch(path); m != nil {
		re, err := regexp.Compile(m[1])
		if err != nil {
			return nil, false
		}
		return re.MatchString(id) || re.MatchString(name), true
	}

	// Support "path | select(. == value)" post-filters.
	base := path
	var filterVal string
	hasFilter := false
	if idx := strings.Index(path, "|"); idx >= 0 {
		base = strings.TrimSpace(path[:idx])
		filterVal = parseSelectFilter(strings.TrimSpace(path[idx+1:]))
		hasFilter = filterVal != ""
	}

	r := cand.Get(base)
	if !r.Exists() || r.Type == gjson.Null {
		return nil, false
	}
	if hasFilter && r.String() != filterVal {
		return nil, false
	}
	return gjsonToAny(r), true
}

func parseSelectFilter(s string) string {
	const prefix = "select(. == "
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ")") {
		return ""
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, prefix), ")")
	return strings.Trim(inner, `"`)
}

func gjsonToAny(r gjson.Result) any {
	switch r.Type {
	case gjson.True, gjson.False:
		return r.Bool()
	case gjson.Number:
		return r.Float()
	default:
		return r.String()
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

func setBoolField(m *core.ModelMetadata, field string, v *bool) {
	switch field {
	case "supports_tools":
		m.SupportsTools = v
	case "supports_vision":
		m.SupportsVision = v
	case "supports_audio":
		m.SupportsAudio = v
	case "supports_reasoning":
		m.SupportsReasoning = v
	case "supports_code":
		m.SupportsCode = v
	case "supports_functions":
		m.SupportsFunctions = v
	case "supports_json_mode":
		m.SupportsJSONMode = v
	case "supports_streaming":
		m.SupportsStreaming = v
	case "deprecated":
		if v != nil {
			m.Deprecated = *v
		}
	}
}

func setValueField(m *core.ModelMetadata, field string, v any, rule TagRule) {
	f, isFloat := v.(float64)
	if rule.ValueType == ValueU32 || rule.ValueType == ValueF64 {
		if !isFloat {
			if s, ok := v.(string); ok {
				parsed, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return
				}
				f = parsed
			} else {
				return
			}
		}
		if rule.Transform == TransformMultiplyMillion {
			f *= 1_000_000
		}
	}

	switch field {
	case "context_length":
		n := int(f)
		m.ContextLength = &n
	case "max_output_tokens":
		n := int(f)
		m.MaxOutputTokens = &n
	case "input_price_per_m":
		m.InputPricePerM = &f
	case "output_price_per_m":
		m.OutputPricePerM = &f
	}
}
