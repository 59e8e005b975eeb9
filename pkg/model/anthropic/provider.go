// Package anthropic implements model.LanguageModel on the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cexll/aisdk-go/pkg/model"
)

const (
	providerName = "anthropic"
	apiVersion   = "2023-06-01"
)

// messagesAPI is the slice of the SDK message service the model uses.
type messagesAPI interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Settings configures the provider. Only APIKey is required.
type Settings struct {
	APIKey     string
	BaseURL    string
	Headers    map[string]string
	HTTPClient *http.Client
}

// Provider hands out Messages API models sharing one SDK client.
type Provider struct {
	settings Settings
	client   anthropicsdk.Client
}

var _ model.Provider = (*Provider)(nil)

// NewProvider builds the SDK client with its own retries disabled.
func NewProvider(s Settings) (*Provider, error) {
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.APIKey == "" {
		return nil, &model.ProviderError{Kind: model.ProviderRequestFailed, Provider: providerName, Message: "api key is required"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/"); base != "" {
		s.BaseURL = base
		opts = append(opts, option.WithBaseURL(base))
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
	return &Provider{settings: s, client: anthropicsdk.NewClient(opts...)}, nil
}

// LanguageModel returns a model for id.
func (p *Provider) LanguageModel(id string) (model.LanguageModel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &model.ProviderError{Kind: model.ProviderInvalidModelID, Provider: providerName, Message: "model id is required"}
	}
	return NewModel(&p.client.Messages, id), nil
}

// Headers reports the headers sent with every request.
func (p *Provider) Headers() (http.Header, error) {
	h := http.Header{}
	h.Set("X-Api-Key", p.settings.APIKey)
	h.Set("Anthropic-Version", apiVersion)
	h.Set("Content-Type", "application/json")
	for k, v := range p.settings.Headers {
		if strings.TrimSpace(k) == "" || v == "" {
			continue
		}
		h.Set(k, v)
	}
	return h, nil
}
