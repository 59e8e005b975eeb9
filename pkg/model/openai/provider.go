// Package openai implements model.LanguageModel on top of the OpenAI Chat
// Completions API using the official SDK.
package openai

import (
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/cexll/aisdk-go/pkg/model"
)

const (
	providerName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Settings configures the provider. Only APIKey is required.
type Settings struct {
	APIKey       string
	BaseURL      string
	Organization string
	Project      string
	Headers      map[string]string
	HTTPClient   *http.Client
}

// Provider hands out chat models that share one SDK client.
type Provider struct {
	settings Settings
	client   openaisdk.Client
}

var _ model.Provider = (*Provider)(nil)

// NewProvider validates settings and builds the SDK client. SDK level
// retries are disabled; callers retry through the generation loop.
func NewProvider(s Settings) (*Provider, error) {
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.APIKey == "" {
		return nil, &model.ProviderError{Kind: model.ProviderRequestFailed, Provider: providerName, Message: "api key is required"}
	}
	s.BaseURL = sanitizeBaseURL(s.BaseURL)

	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithBaseURL(s.BaseURL),
		option.WithMaxRetries(0),
	}
	if s.Organization != "" {
		opts = append(opts, option.WithOrganization(s.Organization))
	}
	if s.Project != "" {
		opts = append(opts, option.WithProject(s.Project))
	}
	if s.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	}
	for k, v := range s.Headers {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		opts = append(opts, option.WithHeader(k, v))
	}
	return &Provider{settings: s, client: openaisdk.NewClient(opts...)}, nil
}

// LanguageModel returns a chat model for id.
func (p *Provider) LanguageModel(id string) (model.LanguageModel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &model.ProviderError{Kind: model.ProviderInvalidModelID, Provider: providerName, Message: "model id is required"}
	}
	return &ChatModel{client: p.client, modelID: id}, nil
}

// Headers reports the headers sent with every request.
func (p *Provider) Headers() (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.settings.APIKey)
	h.Set("Content-Type", "application/json")
	if p.settings.Organization != "" {
		h.Set("OpenAI-Organization", p.settings.Organization)
	}
	if p.settings.Project != "" {
		h.Set("OpenAI-Project", p.settings.Project)
	}
	for k, v := range p.settings.Headers {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		h.Set(k, v)
	}
	return h, nil
}

func sanitizeBaseURL(base string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return DefaultBaseURL
	}
	return trimmed
}
