package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/retry"
	"github.com/cexll/aisdk-go/pkg/telemetry"
)

var errNoResponse = errors.New("backend returned no response")

// stepExecutor performs one backend call under the retry policy.
type stepExecutor struct {
	model  model.LanguageModel
	policy retry.Policy
}

func (e stepExecutor) execute(ctx context.Context, stepType StepType, req *model.Request) (_ StepResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "generate.step",
		trace.WithAttributes(
			attribute.String("llm.provider", e.model.Provider()),
			attribute.String("llm.model", e.model.ModelID()),
			attribute.String("generate.step_type", string(stepType)),
			attribute.Int("generate.messages", len(req.Prompt)),
		),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	attempts := 0
	resp, err := retry.Do(ctx, e.policy, func(ctx context.Context) (*model.Response, error) {
		attempts++
		resp, err := e.model.DoGenerate(ctx, req)
		if err != nil {
			return nil, classify(err)
		}
		if resp == nil {
			return nil, model.WrapError(model.KindOther, "", errNoResponse)
		}
		return resp, nil
	})
	if err != nil {
		return StepResult{}, err
	}

	step := StepResult{
		StepType:     stepType,
		Text:         resp.Text,
		Reasoning:    resp.Reasoning,
		Files:        resp.Files,
		Sources:      resp.Sources,
		ToolCalls:    make([]model.ToolCallPart, 0, len(resp.ToolCalls)),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Warnings:     resp.Warnings,
		Logprobs:     resp.Logprobs,
		Request:      resp.Request,
		Response:     resp.Response,
		Attempts:     attempts,
	}
	for _, call := range resp.ToolCalls {
		if call.ToolCallID == "" {
			call.ToolCallID = "call_" + uuid.NewString()
		}
		args, ok := normalizeArgs(call.Args)
		if !ok {
			step.Warnings = append(step.Warnings, model.OtherWarning(
				"tool call "+call.ToolCallID+" ("+call.ToolName+") has malformed JSON arguments; passed on as a string"))
		}
		call.Args = args
		step.ToolCalls = append(step.ToolCalls, call)
	}
	span.SetAttributes(
		attribute.String("llm.finish_reason", step.FinishReason.String()),
		attribute.Int("llm.usage.prompt_tokens", step.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", step.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(step.ToolCalls)),
	)
	return step, nil
}

// normalizeArgs guarantees that tool call arguments are valid JSON. Empty
// arguments become an empty object; anything unparsable, such as arguments
// cut off by a length stop, is wrapped as a JSON string so the tool sees a
// decode error instead of the payload breaking later encoding.
func normalizeArgs(raw json.RawMessage) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("{}"), true
	}
	if json.Valid(trimmed) {
		return raw, true
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return json.RawMessage("{}"), false
	}
	return quoted, false
}

// classify makes sure every backend failure carries a kind before it
// reaches the retry policy.
func classify(err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	return model.WrapError(model.ClassifyTransport(err), "", err)
}
