// Package generate drives a language model through a bounded loop of
// steps, resolving tool calls between them and folding every step into a
// single result.
package generate

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/prompt"
	"github.com/cexll/aisdk-go/pkg/retry"
	"github.com/cexll/aisdk-go/pkg/telemetry"
	"github.com/cexll/aisdk-go/pkg/tool"
)

type state int

const (
	stateInit state = iota
	stateAwaitingStep
	stateResolvingTools
	stateDone
)

// accumulator folds steps of one generation. It is owned by a single
// GenerateText call.
type accumulator struct {
	steps    []StepResult
	usage    model.Usage
	text     string
	finish   model.FinishReason
	warnings []model.Warning
	sources  []model.Source
	files    []model.GeneratedFile
	messages []model.Message
}

func (a *accumulator) fold(step StepResult) {
	a.steps = append(a.steps, step)
	a.usage = a.usage.Add(step.Usage)
	if step.StepType == StepContinue {
		a.text += step.Text
	} else {
		a.text = step.Text
	}
	a.finish = step.FinishReason
	a.warnings = append(a.warnings, step.Warnings...)
	a.sources = append(a.sources, step.Sources...)
	a.files = append(a.files, step.Files...)
	a.messages = append(a.messages, step.Messages...)
}

func (a *accumulator) result() *Result {
	if len(a.steps) == 0 {
		return nil
	}
	last := a.steps[len(a.steps)-1]
	return &Result{
		Text:         a.text,
		Reasoning:    last.Reasoning,
		FinishReason: a.finish,
		Usage:        a.usage,
		Steps:        a.steps,
		ToolCalls:    last.ToolCalls,
		ToolResults:  last.ToolResults,
		Warnings:     a.warnings,
		Sources:      a.sources,
		Files:        a.files,
		Request:      last.Request,
		Response:     last.Response,
		Messages:     a.messages,
	}
}

// GenerateText runs the step loop against lm. Validation failures are
// returned as *model.Error before any backend call; failures inside the
// loop are returned as *Error.
func GenerateText(ctx context.Context, lm model.LanguageModel, opts Options) (res *Result, err error) {
	if lm == nil {
		return nil, model.Errorf(model.KindInvalidArgument, "language model is required")
	}
	if opts.MaxSteps < 1 {
		return nil, model.Errorf(model.KindInvalidArgument, "max_steps must be at least 1, got %d", opts.MaxSteps)
	}
	settings := model.DefaultCallSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	settings, err = settings.Prepare()
	if err != nil {
		return nil, err
	}
	if err := opts.Tools.Validate(); err != nil {
		return nil, err
	}
	std, err := prompt.Standardize(opts.Prompt)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "generate.text",
		trace.WithAttributes(
			attribute.String("llm.provider", lm.Provider()),
			attribute.String("llm.model", lm.ModelID()),
			attribute.Int("generate.max_steps", opts.MaxSteps),
			attribute.Int("generate.tools", len(opts.Tools)),
		),
	)
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = model.KindOf(err).String()
		}
		opts.Metrics.ObserveGenerate(lm.Provider(), status, time.Since(started))
		telemetry.EndSpan(span, err)
	}()

	l := &loop{
		lm:       lm,
		opts:     opts,
		settings: settings,
		std:      std,
		logger:   opts.Logger.With().Str("provider", lm.Provider()).Str("model", lm.ModelID()).Logger(),
	}
	return l.run(ctx)
}

type loop struct {
	lm       model.LanguageModel
	opts     Options
	settings model.CallSettings
	std      *prompt.Standardized
	logger   zerolog.Logger

	acc      accumulator
	messages []model.Message
	// pending is the step whose tool calls are being resolved. It is folded
	// once its results are appended.
	pending StepResult
}

func (l *loop) run(ctx context.Context) (*Result, error) {
	provider := l.lm.Provider()
	exec := stepExecutor{
		model: l.lm,
		policy: retry.Policy{
			MaxRetries: l.settings.MaxRetries,
			BaseDelay:  l.opts.RetryBaseDelay,
			Sleep:      l.opts.Sleep,
			Logger:     l.logger,
			OnRetry: func(int, time.Duration, error) {
				l.opts.Metrics.ObserveRetry(provider)
			},
		},
	}
	resolver := tool.Resolver{
		Concurrency: l.opts.ToolConcurrency,
		Logger:      l.logger,
		OnResult: func(call model.ToolCallPart, res model.ToolResultPart, _ time.Duration) {
			l.opts.Metrics.ObserveToolCall(call.ToolName, res.IsError)
		},
	}
	defs := l.opts.Tools.Definitions()

	var stepType StepType
	st := stateInit

	for {
		switch st {
		case stateInit:
			l.messages = append([]model.Message(nil), l.std.Messages...)
			stepType = StepInitial
			st = stateAwaitingStep

		case stateAwaitingStep:
			if err := ctx.Err(); err != nil {
				return nil, l.fail(model.WrapError(model.KindCanceled, "generation canceled", err), 0)
			}
			if l.opts.Limiter != nil {
				if err := l.opts.Limiter.Wait(ctx); err != nil {
					return nil, l.fail(model.WrapError(model.KindCanceled, "rate limiter wait", err), 0)
				}
			}

			req := &model.Request{
				Settings:         l.settings,
				InputFormat:      model.InputFormatMessages,
				System:           l.std.System,
				Prompt:           append([]model.Message(nil), l.messages...),
				Tools:            defs,
				ToolChoice:       l.opts.ToolChoice,
				ProviderMetadata: l.opts.ProviderMetadata,
			}
			if len(l.acc.steps) == 0 {
				req.InputFormat = l.std.InputFormat()
			}

			step, err := exec.execute(ctx, stepType, req)
			if err != nil {
				return nil, l.fail(err, retry.Attempts(err))
			}

			st = l.next(step)
			switch st {
			case stateResolvingTools:
				l.pending = step
			case stateAwaitingStep:
				assistant := assistantMessage(step, nil)
				l.messages = append(l.messages, assistant)
				step.Messages = []model.Message{assistant}
				step.IsContinued = true
				stepType = StepContinue
				l.finishStep(step)
			default:
				step.Messages = []model.Message{assistantMessage(step, step.ToolCalls)}
				l.finishStep(step)
			}

		case stateResolvingTools:
			step := l.pending
			l.pending = StepResult{}
			calls := l.opts.Tools.LocalCalls(step.ToolCalls)
			assistant := assistantMessage(step, calls)
			l.messages = append(l.messages, assistant)
			step.Messages = []model.Message{assistant}

			results, err := resolver.ResolveAll(ctx, l.opts.Tools, calls, append([]model.Message(nil), l.messages...))
			if err != nil {
				return nil, l.fail(err, step.Attempts)
			}
			toolMsg := model.ToolMessage{Content: results}
			l.messages = append(l.messages, toolMsg)
			step.ToolResults = results
			step.Messages = append(step.Messages, toolMsg)
			l.finishStep(step)
			stepType = StepToolResult
			st = stateAwaitingStep

		case stateDone:
			return l.acc.result(), nil
		}
	}
}

// next decides the state that follows step. It never schedules another
// step once MaxSteps steps have been folded, counting the current one.
func (l *loop) next(step StepResult) state {
	if len(l.acc.steps)+1 >= l.opts.MaxSteps {
		return stateDone
	}
	if step.FinishReason == model.FinishReasonToolCalls && len(l.opts.Tools.LocalCalls(step.ToolCalls)) > 0 {
		return stateResolvingTools
	}
	if l.opts.ContinueSteps && step.FinishReason == model.FinishReasonLength && len(step.ToolCalls) == 0 {
		return stateAwaitingStep
	}
	return stateDone
}

func (l *loop) finishStep(step StepResult) {
	l.acc.fold(step)
	l.opts.Metrics.ObserveStep(l.lm.Provider(), string(step.StepType), step.FinishReason.String(),
		step.Usage.PromptTokens, step.Usage.CompletionTokens)
	l.logger.Debug().
		Int("step", len(l.acc.steps)).
		Str("step_type", string(step.StepType)).
		Str("finish_reason", step.FinishReason.String()).
		Int("prompt_tokens", step.Usage.PromptTokens).
		Int("completion_tokens", step.Usage.CompletionTokens).
		Int("tool_calls", len(step.ToolCalls)).
		Int("attempts", step.Attempts).
		Msg("generate step")
	if l.opts.OnStepFinish != nil {
		l.opts.OnStepFinish(step)
	}
}

func (l *loop) fail(err error, attempts int) error {
	out := &Error{Err: err, Step: len(l.acc.steps) + 1, Attempts: attempts}
	if l.opts.PartialResults {
		out.Partial = l.acc.result()
	}
	l.logger.Warn().
		Err(err).
		Int("step", out.Step).
		Int("attempts", attempts).
		Str("kind", model.KindOf(err).String()).
		Msg("generation failed")
	return out
}

// assistantMessage renders a step as the assistant message appended to the
// conversation. Only calls that are answered by a following tool message
// belong in it.
func assistantMessage(step StepResult, calls []model.ToolCallPart) model.AssistantMessage {
	msg := model.AssistantMessage{}
	for _, r := range step.Reasoning {
		msg.Content = append(msg.Content, r)
	}
	if step.Text != "" {
		msg.Content = append(msg.Content, model.TextPart{Text: step.Text})
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, call)
	}
	return msg
}
