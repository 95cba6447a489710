// Package core defines the canonical data model shared by every gateway
// component: provider definitions, credentials, canonical chat messages,
// tool calls, and persisted records. Cross-component references are by
// name (string keys); there is no shared mutable in-memory graph.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider is a named remote LLM service with its own endpoint, model
// list, authentication, and wire format.
type Provider struct {
	Name           string            `yaml:"name"`
	Endpoint       string            `yaml:"endpoint"`
	ModelsPath     string            `yaml:"models_path,omitempty"`
	ChatPath       string            `yaml:"chat_path,omitempty"`
	ImagesPath     string            `yaml:"images_path,omitempty"`
	EmbeddingsPath string            `yaml:"embeddings_path,omitempty"`
	AudioPath      string            `yaml:"audio_path,omitempty"`
	SpeechPath     string            `yaml:"speech_path,omitempty"`
	AuthType       string            `yaml:"auth_type,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	HeaderOrder    []string          `yaml:"-"` // not serialized; config save/load does not preserve header key order
	TokenURL       string            `yaml:"token_url,omitempty"`
	Templates      EndpointTemplateSet `yaml:"templates,omitempty"`
}

// EffectiveModelsPath returns ModelsPath or the spec default "/models".
func (p *Provider) EffectiveModelsPath() string {
	if p.ModelsPath != "" {
		return p.ModelsPath
	}
	return "/models"
}

// EffectiveChatPath returns ChatPath or the spec default "/chat/completions".
func (p *Provider) EffectiveChatPath() string {
	if p.ChatPath != "" {
		return p.ChatPath
	}
	return "/chat/completions"
}

// EndpointTemplateSet groups request/response templates for one endpoint
// kind (chat, embeddings, images, ...), with per-model overrides.
type EndpointTemplateSet struct {
	Chat       EndpointTemplates `yaml:"chat,omitempty"`
	Embeddings EndpointTemplates `yaml:"embeddings,omitempty"`
	Images     EndpointTemplates `yaml:"images,omitempty"`
	Audio      EndpointTemplates `yaml:"audio,omitempty"`
	Speech     EndpointTemplates `yaml:"speech,omitempty"`
}

// EndpointTemplates holds a default template plus exact and regex
// per-model overrides for request, response, and streaming-response
// rendering. Resolution order is exact match, then regex (in declared
// order), then default.
type EndpointTemplates struct {
	Template              TemplateConfig            `yaml:"template"`
	ModelTemplates         map[string]TemplateConfig `yaml:"model_templates,omitempty"`
	ModelTemplatePatterns  []PatternTemplate         `yaml:"model_template_patterns,omitempty"`
}

// PatternTemplate pairs a regex (matched against the model name) with a
// template override.
type PatternTemplate struct {
	Pattern  string         `yaml:"pattern"`
	Template TemplateConfig `yaml:"template"`
}

// TemplateConfig names the three templates used by one request/response
// cycle: the outbound request body, the non-streaming response parser,
// and the per-chunk streaming response parser. Each value is either a
// literal template body or "t:<name>" referencing a registered template.
type TemplateConfig struct {
	Request        string `yaml:"request,omitempty"`
	Response       string `yaml:"response,omitempty"`
	StreamResponse string `yaml:"stream_response,omitempty"`
}

// CredentialKind tags the variant populated in a Credential.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialAPIKey
	CredentialServiceAccount
	CredentialToken
	CredentialOAuthToken
	CredentialHeaders
)

// Credential is the tagged union of secret material the Keys Store (C2)
// holds per provider name.
type Credential struct {
	Kind           CredentialKind
	APIKey         string
	ServiceAccount json.RawMessage
	Token          string
	OAuthToken     *CachedToken
	Headers        map[string]string
}

// CachedToken is a bearer token with an expiry. It is considered valid
// while now < ExpiresAt - 60s.
type CachedToken struct {
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// Valid reports whether the token may still be used at t.
func (c *CachedToken) Valid(t time.Time) bool {
	return c != nil && t.Before(c.ExpiresAt.Add(-60*time.Second))
}

// Alias resolves a short name to "provider:model".
type Alias struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Role enumerates the canonical message roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType tags a ContentPart variant.
type ContentPartType int

const (
	ContentText ContentPartType = iota
	ContentImage
)

// ContentPart is one multimodal content part: literal text or an image
// reference (URL or inline base64).
type ContentPart struct {
	Type   ContentPartType
	Text   string
	URL    string
	MIME   string
	Base64 string
	Detail string
}

// NewTextPart returns a text content part.
func NewTextPart(text string) ContentPart { return ContentPart{Type: ContentText, Text: text} }

// NewImagePart returns an image content part.
func NewImagePart(url, mime, base64Data, detail string) ContentPart {
	return ContentPart{Type: ContentImage, URL: url, MIME: mime, Base64: base64Data, Detail: detail}
}

// Content is the sum type for message bodies: either plain text or a
// sequence of multimodal parts. Exactly one of Text or Parts is populated.
type Content struct {
	Text  *string
	Parts []ContentPart
}

// IsMultimodal reports whether Content carries typed parts rather than
// a single text string.
func (c Content) IsMultimodal() bool { return c.Text == nil }

// TextContent builds a plain-text Content.
func TextContent(s string) Content { return Content{Text: &s} }

// PartsContent builds a multimodal Content.
func PartsContent(parts ...ContentPart) Content { return Content{Parts: parts} }

// PlainText extracts a best-effort flat string from Content, joining
// text parts when multimodal. Used for token estimation and logging.
func (c Content) PlainText() string {
	if c.Text != nil {
		return *c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}

// CanonicalMessage is one turn of a conversation in the gateway's
// internal representation.
type CanonicalMessage struct {
	Role       Role
	Content    Content
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition describes one callable tool exposed to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model-emitted instruction to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	CallType string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function-call payload of a ToolCall.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCallID mints a unique tool-call identifier.
func NewToolCallID() string { return "call_" + uuid.NewString() }

// CanonicalChatRequest is the provider-agnostic request shape consumed
// by the Template Engine and Provider Client.
type CanonicalChatRequest struct {
	Model            string
	Messages         []CanonicalMessage
	MaxTokens        *int
	Temperature      *float64
	Tools            []ToolDefinition
	Stream           bool
	ToolChoice       json.RawMessage
	ResponseFormat   json.RawMessage
}

// CanonicalChatResponse is the provider-agnostic response shape produced
// by the response template.
type CanonicalChatResponse struct {
	Message      CanonicalMessage
	FinishReason string
	Usage        *Usage
}

// Usage records input/output token counts for one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns InputTokens + OutputTokens.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// ChatEntry is one persisted exchange, grouped by ChatID (session).
type ChatEntry struct {
	ID           int64
	ChatID       string
	Model        string
	Question     string
	Response     string
	Timestamp    time.Time
	InputTokens  *int
	OutputTokens *int
}

// ModelType enumerates the kinds of model a ModelMetadata record can
// describe.
type ModelType struct {
	Kind string // Chat, Completion, Embedding, ImageGeneration, AudioGeneration, Moderation, Other
	Tag  string // populated only when Kind == "Other"
}

var (
	ModelTypeChat            = ModelType{Kind: "Chat"}
	ModelTypeCompletion      = ModelType{Kind: "Completion"}
	ModelTypeEmbedding       = ModelType{Kind: "Embedding"}
	ModelTypeImageGeneration = ModelType{Kind: "ImageGeneration"}
	ModelTypeAudioGeneration = ModelType{Kind: "AudioGeneration"}
	ModelTypeModeration      = ModelType{Kind: "Moderation"}
)

// ModelMetadata is the canonical per-model record derived from a
// provider's model listing.
type ModelMetadata struct {
	ID                 string
	Provider           string
	DisplayName        string
	Description        string
	Owner              string
	Created            *time.Time
	ContextLength      *int
	MaxInputTokens     *int
	MaxOutputTokens    *int
	InputPricePerM     *float64
	OutputPricePerM    *float64
	SupportsTools      *bool
	SupportsVision     *bool
	SupportsAudio      *bool
	SupportsReasoning  *bool
	SupportsCode       *bool
	SupportsFunctions  *bool
	SupportsJSONMode   *bool
	SupportsStreaming  *bool
	ModelType          ModelType
	Deprecated         bool
	FineTunable        bool
	Aliases            []string // supplemented from original_source
	LastSeen           time.Time // supplemented from original_source
	RawData            json.RawMessage
}

// VectorEntry is one row of a Vector Store database.
type VectorEntry struct {
	ID        int64
	Text      string
	Vector    []float64
	Model     string
	Provider  string
	CreatedAt time.Time
}

// context keys, following the teacher's single-allocation-per-request
// pattern for bundling request-scoped values.
type ctxKey int

const requestIDKey ctxKey = iota

// ContextWithRequestID attaches a request id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request id attached by
// ContextWithRequestID, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRequestID mints a fresh request id.
func NewRequestID() string { return uuid.NewString() }
