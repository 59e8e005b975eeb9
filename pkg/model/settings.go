package model

import "net/http"

const (
	DefaultMaxTokens  = 2056
	DefaultMaxRetries = 2
)

// ResponseFormat asks the backend for plain text or JSON output.
type ResponseFormat struct {
	Type        ResponseFormatType `json:"type"`
	Schema      map[string]any     `json:"schema,omitempty"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
}

type ResponseFormatType string

const (
	ResponseFormatText ResponseFormatType = "text"
	ResponseFormatJSON ResponseFormatType = "json"
)

// CallSettings tunes a single generation. Pointer fields are optional and
// left to the backend default when nil.
type CallSettings struct {
	MaxTokens        int             `json:"max_tokens" yaml:"max_tokens"`
	Temperature      float64         `json:"temperature" yaml:"temperature"`
	TopP             *float64        `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	StopSequences    []string        `json:"stop_sequences,omitempty" yaml:"stop_sequences,omitempty"`
	Seed             *int64          `json:"seed,omitempty" yaml:"seed,omitempty"`
	MaxRetries       int             `json:"max_retries" yaml:"max_retries"`
	Headers          http.Header     `json:"headers,omitempty" yaml:"headers,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty" yaml:"-"`
}

// DefaultCallSettings returns the settings used when the caller supplies none.
func DefaultCallSettings() CallSettings {
	return CallSettings{
		MaxTokens:  DefaultMaxTokens,
		MaxRetries: DefaultMaxRetries,
	}
}

// Prepare validates the settings and returns a normalized copy.
func (s CallSettings) Prepare() (CallSettings, error) {
	if s.MaxTokens < 1 {
		return CallSettings{}, Errorf(KindInvalidArgument, "max_tokens must be at least 1, got %d", s.MaxTokens)
	}
	if s.MaxRetries < 0 {
		return CallSettings{}, Errorf(KindInvalidArgument, "max_retries must not be negative, got %d", s.MaxRetries)
	}
	out := s
	if len(s.StopSequences) == 0 {
		out.StopSequences = nil
	} else {
		out.StopSequences = append([]string(nil), s.StopSequences...)
	}
	if s.Headers != nil {
		out.Headers = s.Headers.Clone()
	}
	return out, nil
}
