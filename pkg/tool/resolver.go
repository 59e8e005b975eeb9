package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/telemetry"
)

// ErrToolNotFound is reported, as a tool result, when the model calls a
// tool missing from the set.
var ErrToolNotFound = errors.New("tool not found")

// Resolver executes tool calls. The zero value runs every call of a step
// concurrently and logs nothing.
type Resolver struct {
	// Concurrency bounds the number of tools running at once. Zero or
	// negative means unbounded.
	Concurrency int
	Logger      zerolog.Logger
	// OnResult observes every resolved call.
	OnResult func(call model.ToolCallPart, result model.ToolResultPart, dur time.Duration)
}

// Resolve runs a single call with the default resolver.
func Resolve(ctx context.Context, set Set, call model.ToolCallPart, messages []model.Message) model.ToolResultPart {
	return Resolver{Logger: zerolog.Nop()}.Resolve(ctx, set, call, messages)
}

// Resolve runs call against set. Failures never escape: a missing tool,
// an execute error or a panic are all reported through IsError.
func (r Resolver) Resolve(ctx context.Context, set Set, call model.ToolCallPart, messages []model.Message) (result model.ToolResultPart) {
	result = model.ToolResultPart{ToolCallID: call.ToolCallID, ToolName: call.ToolName}
	started := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.ToolName),
			attribute.String("tool.call_id", call.ToolCallID),
		),
	)
	defer func() {
		var spanErr error
		if result.IsError {
			spanErr = errors.New(result.Result)
			r.Logger.Warn().
				Str("tool", call.ToolName).
				Str("tool_call_id", call.ToolCallID).
				Str("error", telemetry.MaskText(result.Result)).
				Msg("tool call failed")
		}
		telemetry.EndSpan(span, spanErr)
		if r.OnResult != nil {
			r.OnResult(call, result, time.Since(started))
		}
	}()

	t, ok := set[call.ToolName]
	if !ok {
		result.IsError = true
		result.Result = ErrToolNotFound.Error()
		return result
	}
	if t.Execute == nil {
		result.IsError = true
		result.Result = fmt.Sprintf("tool %s has no execute function", call.ToolName)
		return result
	}

	out, err := execute(ctx, t.Execute, call, messages)
	if err != nil {
		result.IsError = true
		result.Result = err.Error()
		return result
	}
	result.Result = stringify(out)
	return result
}

func execute(ctx context.Context, fn ExecuteFunc, call model.ToolCallPart, messages []model.Message) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.ToolName, rec)
		}
	}()
	return fn(ctx, call.Args, ExecutionOptions{ToolCallID: call.ToolCallID, Messages: messages})
}

// ResolveAll runs calls concurrently and returns their results in call
// order. It waits for every call unless ctx is cancelled first, in which
// case it returns a cancellation error and no results.
func (r Resolver) ResolveAll(ctx context.Context, set Set, calls []model.ToolCallPart, messages []model.Message) ([]model.ToolResultPart, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(model.KindCanceled, "tool resolution canceled", err)
	}

	results := make([]model.ToolResultPart, len(calls))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		if r.Concurrency > 0 {
			g.SetLimit(r.Concurrency)
		}
		for i, call := range calls {
			g.Go(func() error {
				results[i] = r.Resolve(ctx, set, call, messages)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		return nil, model.WrapError(model.KindCanceled, "tool resolution canceled", ctx.Err())
	}
}
