package provider

import core "github.com/go-lcgw/lcgw/internal"

// Default template bodies for the three wire families spec.md's
// original source shipped hand-written adapters for (OpenAI-compatible,
// Anthropic, Gemini). Expressed here as template bodies rather than Go
// marshaling code, per spec §4.7: wire-shape differences are the
// Template Engine's concern, not the Provider Client's.

const openAIChatRequest = `{` +
	`{{ if not .OmitModel }}"model":{{ .Model | json }},{{ end }}` +
	`"messages":{{ .Messages | baseMessages | json }}` +
	`{{ if .MaxTokens }},"max_tokens":{{ .MaxTokens }}{{ end }}` +
	`{{ if .Temperature }},"temperature":{{ .Temperature }}{{ end }}` +
	`{{ if .Tools }},"tools":{{ .Tools | json }}{{ end }}` +
	`{{ if .Stream }},"stream":true,"stream_options":{"include_usage":true}{{ end }}` +
	`}`

const openAIChatResponse = `{{ $choice := index .choices 0 }}{{ $msg := $choice.message }}{` +
	`"role":{{ $msg.role | default "assistant" | json }},` +
	`"content":{{ $msg.content | default "" | json }},` +
	`"finish_reason":{{ $choice.finish_reason | default "stop" | json }},` +
	`"tool_calls":{{ $msg.tool_calls | json }},` +
	`"usage":{"input_tokens":{{ .usage.prompt_tokens | default 0 }},"output_tokens":{{ .usage.completion_tokens | default 0 }}}` +
	`}`

const anthropicChatRequest = `{` +
	`{{ if not .OmitModel }}"model":{{ .Model | json }},{{ end }}` +
	`"messages":{{ .Messages | systemToUserRole | anthropicMessages | json }}` +
	`,"max_tokens":{{ .MaxTokens | default 4096 }}` +
	`{{ if .Temperature }},"temperature":{{ .Temperature }}{{ end }}` +
	`{{ if .Tools }},"tools":{{ .Tools | json }}{{ end }}` +
	`{{ if .Stream }},"stream":true{{ end }}` +
	`}`

const anthropicChatResponse = `{{ $block := index .content 0 }}{` +
	`"role":"assistant",` +
	`"content":{{ $block.text | default "" | json }},` +
	`"finish_reason":{{ .stop_reason | default "stop" | json }},` +
	`"usage":{"input_tokens":{{ .usage.input_tokens | default 0 }},"output_tokens":{{ .usage.output_tokens | default 0 }}}` +
	`}`

const geminiChatRequest = `{` +
	`"contents":{{ .Messages | geminiMessages | json }}` +
	`{{ if .Temperature }},"generationConfig":{"temperature":{{ .Temperature }}}{{ end }}` +
	`}`

const geminiChatResponse = `{{ $candidate := index .candidates 0 }}{{ $part := index $candidate.content.parts 0 }}{` +
	`"role":"assistant",` +
	`"content":{{ $part.text | default "" | json }},` +
	`"finish_reason":{{ $candidate.finishReason | default "STOP" | json }},` +
	`"usage":{"input_tokens":{{ .usageMetadata.promptTokenCount | default 0 }},"output_tokens":{{ .usageMetadata.candidatesTokenCount | default 0 }}}` +
	`}`

// DefaultOpenAITemplates is the template pair used by OpenAI and any
// OpenAI-wire-compatible provider (most self-hosted gateways, Ollama's
// /v1/chat/completions shim, many aggregators).
func DefaultOpenAITemplates() core.EndpointTemplates {
	return core.EndpointTemplates{
		Template: core.TemplateConfig{Request: openAIChatRequest, Response: openAIChatResponse},
	}
}

// DefaultAnthropicTemplates is the template pair for Anthropic's native
// Messages API wire shape.
func DefaultAnthropicTemplates() core.EndpointTemplates {
	return core.EndpointTemplates{
		Template: core.TemplateConfig{Request: anthropicChatRequest, Response: anthropicChatResponse},
	}
}

// DefaultGeminiTemplates is the template pair for Gemini's native
// generateContent wire shape.
func DefaultGeminiTemplates() core.EndpointTemplates {
	return core.EndpointTemplates{
		Template: core.TemplateConfig{Request: geminiChatRequest, Response: geminiChatResponse},
	}
}
