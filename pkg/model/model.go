package model

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// LanguageModel is the capability the generation loop drives: given a
// request, return a response or fail with a classified *Error. DoGenerate
// must be safe to call again after a retryable failure.
type LanguageModel interface {
	Provider() string
	ModelID() string
	DoGenerate(ctx context.Context, req *Request) (*Response, error)
}

// Provider hands out language models and the headers it sends upstream.
type Provider interface {
	LanguageModel(modelID string) (LanguageModel, error)
	Headers() (http.Header, error)
}

// InputFormat tells the backend whether the prompt came from plain text or
// a message list.
type InputFormat string

const (
	InputFormatPrompt   InputFormat = "prompt"
	InputFormatMessages InputFormat = "messages"
)

// ToolDefinition describes a callable tool to the backend.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	// ProviderID names a tool implemented by the backend, in the form
	// "<provider>.<tool>". Backends skip ids addressed to other providers.
	ProviderID   string         `json:"provider_id,omitempty"`
	ProviderArgs map[string]any `json:"provider_args,omitempty"`
}

// IsProviderDefined reports whether the backend implements the tool.
func (d ToolDefinition) IsProviderDefined() bool { return d.ProviderID != "" }

// ProviderTool splits ProviderID into its provider and tool name.
func (d ToolDefinition) ProviderTool() (provider, name string) {
	provider, name, _ = strings.Cut(d.ProviderID, ".")
	return provider, name
}

// ToolChoiceType controls how the model may use tools.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceTool     ToolChoiceType = "tool"
)

// ToolChoice selects the tool usage mode. ToolName is only read when Type is
// ToolChoiceTool.
type ToolChoice struct {
	Type     ToolChoiceType `json:"type"`
	ToolName string         `json:"tool_name,omitempty"`
}

// Request is everything a backend needs for one step.
type Request struct {
	Settings         CallSettings
	InputFormat      InputFormat
	System           string
	Prompt           []Message
	Tools            []ToolDefinition
	ToolChoice       *ToolChoice
	// ProviderMetadata holds provider specific request options keyed by
	// provider name, for example {"openai": {"user": "u-1"}}.
	ProviderMetadata map[string]any
}

// ProviderOptions returns the request options addressed to provider, or nil.
func (r *Request) ProviderOptions(provider string) map[string]any {
	if r == nil {
		return nil
	}
	opts, _ := r.ProviderMetadata[provider].(map[string]any)
	return opts
}

// Response is the structured outcome of one backend call.
type Response struct {
	Text         string
	Reasoning    []Reasoning
	Files        []GeneratedFile
	ToolCalls    []ToolCallPart
	FinishReason FinishReason
	Usage        Usage
	Warnings     []Warning
	Sources      []Source
	Logprobs     json.RawMessage
	Request      RequestMetadata
	Response     ResponseMetadata
}

// RequestMetadata records what was sent upstream.
type RequestMetadata struct {
	Body string `json:"body,omitempty"`
}

// ResponseMetadata identifies the backend response.
type ResponseMetadata struct {
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
	ModelID   string      `json:"model_id,omitempty"`
	Headers   http.Header `json:"headers,omitempty"`
}

// WarningType enumerates warning variants.
type WarningType string

const (
	WarningUnsupportedSetting WarningType = "unsupported-setting"
	WarningUnsupportedTool    WarningType = "unsupported-tool"
	WarningOther              WarningType = "other"
)

// Warning reports a non fatal problem with a call, such as a setting the
// backend ignored.
type Warning struct {
	Type    WarningType `json:"type"`
	Setting string      `json:"setting,omitempty"`
	Tool    string      `json:"tool,omitempty"`
	Details string      `json:"details,omitempty"`
	Message string      `json:"message,omitempty"`
}

func UnsupportedSetting(setting, details string) Warning {
	return Warning{Type: WarningUnsupportedSetting, Setting: setting, Details: details}
}

func UnsupportedTool(tool, details string) Warning {
	return Warning{Type: WarningUnsupportedTool, Tool: tool, Details: details}
}

func OtherWarning(message string) Warning {
	return Warning{Type: WarningOther, Message: message}
}

// Source is a document the model cited.
type Source struct {
	SourceType       string         `json:"source_type"`
	ID               string         `json:"id"`
	URL              string         `json:"url"`
	Title            string         `json:"title,omitempty"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// SourceTypeURL is the only source type backends currently produce.
const SourceTypeURL = "url"
