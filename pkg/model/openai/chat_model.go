package openai

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/telemetry"
)

// ErrNoChoices is returned when the API answers without any choice.
var ErrNoChoices = errors.New("openai: no choices in response")

// ChatModel is a Chat Completions backed language model.
type ChatModel struct {
	client  openaisdk.Client
	modelID string
}

var _ model.LanguageModel = (*ChatModel)(nil)

func (m *ChatModel) Provider() string { return providerName }
func (m *ChatModel) ModelID() string  { return m.modelID }

// DoGenerate performs one blocking completion call.
func (m *ChatModel) DoGenerate(ctx context.Context, req *model.Request) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.generate",
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

	extra := req.ProviderOptions(providerName)
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		opts = append(opts, option.WithJSONSet(key, extra[key]))
	}

	completion, err := m.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, model.WrapError(model.KindOther, "", ErrNoChoices)
	}

	choice := completion.Choices[0]
	calls, err := convertToolCalls(choice.Message)
	if err != nil {
		return nil, model.WrapError(model.KindOther, "decode tool calls", err)
	}
	text := choice.Message.Content
	if text == "" && choice.Message.Refusal != "" {
		text = choice.Message.Refusal
	}

	resp := &model.Response{
		Text:         text,
		ToolCalls:    calls,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
		Usage: model.NewUsage(
			int(completion.Usage.PromptTokens),
			int(completion.Usage.CompletionTokens),
			int(completion.Usage.TotalTokens),
		),
		Warnings: warnings,
		Request:  model.RequestMetadata{Body: string(body)},
		Response: model.ResponseMetadata{
			ID:      completion.ID,
			ModelID: completion.Model,
		},
	}
	for _, ann := range choice.Message.Annotations {
		if ann.Type != "url_citation" || ann.URLCitation.URL == "" {
			continue
		}
		resp.Sources = append(resp.Sources, model.Source{
			SourceType: model.SourceTypeURL,
			ID:         strconv.Itoa(len(resp.Sources)),
			URL:        ann.URLCitation.URL,
			Title:      ann.URLCitation.Title,
		})
	}
	if completion.Created > 0 {
		resp.Response.Timestamp = time.Unix(completion.Created, 0).UTC()
	}
	if httpResp != nil {
		resp.Response.Headers = httpResp.Header.Clone()
	}
	if raw := choice.Logprobs.RawJSON(); raw != "" && raw != "null" {
		resp.Logprobs = json.RawMessage(raw)
	}

	span.SetAttributes(
		attribute.String("llm.finish_reason", resp.FinishReason.String()),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func classifyError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return model.WrapError(model.KindFromStatus(apiErr.StatusCode), "openai request failed", err)
	}
	return model.WrapError(model.ClassifyTransport(err), "openai request failed", err)
}
