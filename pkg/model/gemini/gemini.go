// Package gemini adapts an adk model.LLM to model.LanguageModel.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	adkmodel "google.golang.org/adk/model"
	adkgemini "google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/telemetry"
)

const providerName = "gemini"

// Settings configures the provider.
type Settings struct {
	APIKey     string
	HTTPClient *http.Client
}

// Provider builds Gemini models through adk.
type Provider struct {
	settings Settings
	// newLLM is swapped in tests.
	newLLM func(ctx context.Context, id string) (adkmodel.LLM, error)
}

var _ model.Provider = (*Provider)(nil)

func NewProvider(s Settings) (*Provider, error) {
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.APIKey == "" {
		return nil, &model.ProviderError{Kind: model.ProviderRequestFailed, Provider: providerName, Message: "api key is required"}
	}
	p := &Provider{settings: s}
	p.newLLM = func(ctx context.Context, id string) (adkmodel.LLM, error) {
		return adkgemini.NewModel(ctx, id, &genai.ClientConfig{APIKey: s.APIKey, HTTPClient: s.HTTPClient})
	}
	return p, nil
}

// LanguageModel constructs the adk client for id.
func (p *Provider) LanguageModel(id string) (model.LanguageModel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &model.ProviderError{Kind: model.ProviderInvalidModelID, Provider: providerName, Message: "model id is required"}
	}
	llm, err := p.newLLM(context.Background(), id)
	if err != nil {
		return nil, &model.ProviderError{Kind: model.ProviderRequestFailed, Provider: providerName, Message: "create model", Err: err}
	}
	return NewModel(llm, id), nil
}

func (p *Provider) Headers() (http.Header, error) {
	h := http.Header{}
	h.Set("X-Goog-Api-Key", p.settings.APIKey)
	h.Set("Content-Type", "application/json")
	return h, nil
}

// Model is a Gemini backed language model.
type Model struct {
	llm     adkmodel.LLM
	modelID string
}

var _ model.LanguageModel = (*Model)(nil)

// NewModel wraps llm, for example one built by adk's gemini.NewModel.
func NewModel(llm adkmodel.LLM, modelID string) *Model {
	return &Model{llm: llm, modelID: modelID}
}

func (m *Model) Provider() string { return providerName }
func (m *Model) ModelID() string  { return m.modelID }

// DoGenerate issues one non-streaming GenerateContent call.
func (m *Model) DoGenerate(ctx context.Context, req *model.Request) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.gemini.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", providerName),
			attribute.String("llm.model", m.modelID),
			attribute.Int("llm.tools_count", len(req.Tools)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	llmReq, warnings, err := buildRequest(m.modelID, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(llmReq)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidArgument, "encode request", err)
	}

	var last *adkmodel.LLMResponse
	for resp, err := range m.llm.GenerateContent(ctx, llmReq, false) {
		if err != nil {
			return nil, classifyError(err)
		}
		if resp != nil {
			last = resp
		}
	}
	if last == nil {
		return nil, model.Errorf(model.KindOther, "gemini returned no response")
	}
	if last.ErrorCode != "" && last.Content == nil {
		return nil, model.Errorf(kindFromCode(last.ErrorCode), "gemini %s: %s", last.ErrorCode, last.ErrorMessage)
	}

	out, err := convertResponse(last)
	if err != nil {
		return nil, err
	}
	out.Warnings = append(warnings, out.Warnings...)
	out.Request = model.RequestMetadata{Body: string(body)}
	out.Response = model.ResponseMetadata{ModelID: m.modelID, Timestamp: time.Now().UTC()}

	span.SetAttributes(
		attribute.String("llm.finish_reason", out.FinishReason.String()),
		attribute.Int("llm.usage.total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.WrapError(model.KindFromStatus(apiErr.Code), "gemini request failed", err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return model.WrapError(model.KindFromStatus(apiErrPtr.Code), "gemini request failed", err)
	}
	return model.WrapError(model.ClassifyTransport(err), "gemini request failed", err)
}

// kindFromCode maps google.rpc status names reported in ErrorCode.
func kindFromCode(code string) model.ErrorKind {
	switch strings.ToUpper(code) {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "OUT_OF_RANGE":
		return model.KindInvalidArgument
	case "NOT_FOUND":
		return model.KindNotFound
	case "UNIMPLEMENTED":
		return model.KindNotSupported
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED", "ABORTED":
		return model.KindInternal
	case "CANCELLED":
		return model.KindCanceled
	default:
		return model.KindOther
	}
}
