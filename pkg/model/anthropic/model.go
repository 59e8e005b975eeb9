package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/telemetry"
)

// Model is a Messages API backed language model.
type Model struct {
	msgs    messagesAPI
	modelID string
}

var _ model.LanguageModel = (*Model)(nil)

// NewModel wraps a message service. Tests pass a fake.
func NewModel(msgs messagesAPI, modelID string) *Model {
	return &Model{msgs: msgs, modelID: modelID}
}

func (m *Model) Provider() string { return providerName }
func (m *Model) ModelID() string  { return m.modelID }

// DoGenerate performs one blocking Messages call.
func (m *Model) DoGenerate(ctx context.Context, req *model.Request) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", providerName),
			attribute.String("llm.model", m.modelID),
			attribute.Int("llm.tools_count", len(req.Tools)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	params, warnings, err := buildParams(m.modelID, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidArgument, "encode request", err)
	}

	var httpResp *http.Response
	opts := []option.RequestOption{option.WithResponseInto(&httpResp)}
	for k, vs := range req.Settings.Headers {
		for _, v := range vs {
			opts = append(opts, option.WithHeaderAdd(k, v))
		}
	}
	opts = append(opts, metadataOptions(req)...)

	msg, err := m.msgs.New(ctx, params, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	if msg == nil {
		return nil, model.Errorf(model.KindOther, "anthropic returned an empty message")
	}

	resp := convertResponse(msg)
	resp.Warnings = append(warnings, resp.Warnings...)
	resp.Request = model.RequestMetadata{Body: string(body)}
	if httpResp != nil {
		resp.Response.Headers = httpResp.Header.Clone()
	}
	span.SetAttributes(
		attribute.String("llm.finish_reason", resp.FinishReason.String()),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

// metadataOptions sets the "anthropic" provider metadata entries as
// top-level request body fields, for example "metadata" or "service_tier".
func metadataOptions(req *model.Request) []option.RequestOption {
	extra := req.ProviderOptions(providerName)
	opts := make([]option.RequestOption, 0, len(extra))
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		opts = append(opts, option.WithJSONSet(key, extra[key]))
	}
	return opts
}

func classifyError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return model.WrapError(model.KindFromStatus(apiErr.StatusCode), "anthropic request failed", err)
	}
	return model.WrapError(model.ClassifyTransport(err), "anthropic request failed", err)
}
