package generate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cexll/aisdk-go/pkg/metrics"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/prompt"
	"github.com/cexll/aisdk-go/pkg/tool"
)

// StepType tells why a step was issued.
type StepType string

const (
	StepInitial    StepType = "initial"
	StepContinue   StepType = "continue"
	StepToolResult StepType = "tool-result"
)

// Options configures GenerateText.
type Options struct {
	Prompt prompt.Prompt
	// Settings defaults to model.DefaultCallSettings when nil.
	Settings   *model.CallSettings
	Tools      tool.Set
	ToolChoice *model.ToolChoice
	// MaxSteps caps the number of backend calls. It must be at least 1.
	MaxSteps int
	// ContinueSteps issues a follow-up step when the model stops because of
	// the token limit.
	ContinueSteps bool
	// ToolConcurrency bounds concurrent tool executions within a step.
	// Zero means unbounded.
	ToolConcurrency int
	// PartialResults keeps the completed steps on the returned error when a
	// later step fails.
	PartialResults   bool
	ProviderMetadata map[string]any

	// Limiter, when set, paces backend calls.
	Limiter *rate.Limiter
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// OnStepFinish is called after every successful step, in order.
	OnStepFinish func(StepResult)

	// RetryBaseDelay overrides the backoff base delay.
	RetryBaseDelay time.Duration
	// Sleep replaces the backoff sleep. Tests use it to avoid waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// StepResult is the outcome of one request/response cycle.
type StepResult struct {
	StepType     StepType
	Text         string
	Reasoning    []model.Reasoning
	Files        []model.GeneratedFile
	Sources      []model.Source
	ToolCalls    []model.ToolCallPart
	ToolResults  []model.ToolResultPart
	FinishReason model.FinishReason
	Usage        model.Usage
	Warnings     []model.Warning
	Logprobs     json.RawMessage
	Request      model.RequestMetadata
	Response     model.ResponseMetadata
	// Messages holds the messages this step appended to the conversation.
	Messages []model.Message
	// IsContinued is true when the next step continues this step's text.
	IsContinued bool
	// Attempts counts backend calls made for this step, retries included.
	Attempts int
}

// ReasoningText joins the readable reasoning of the step. Redacted
// reasoning is skipped.
func (s StepResult) ReasoningText() string {
	var out string
	for _, r := range s.Reasoning {
		if p, ok := r.(model.ReasoningPart); ok {
			out += p.Text
		}
	}
	return out
}

// Result aggregates every step of a generation.
type Result struct {
	Text         string
	Reasoning    []model.Reasoning
	FinishReason model.FinishReason
	// Usage is the element-wise sum over all steps.
	Usage       model.Usage
	Steps       []StepResult
	ToolCalls   []model.ToolCallPart
	ToolResults []model.ToolResultPart
	Warnings    []model.Warning
	Sources     []model.Source
	Files       []model.GeneratedFile
	Request     model.RequestMetadata
	Response    model.ResponseMetadata
	// Messages holds every message generated after the prompt.
	Messages []model.Message
}

// Error is returned when the loop fails after validation succeeded.
type Error struct {
	Err error
	// Step is the 1-based step that failed.
	Step     int
	Attempts int
	// Partial holds completed steps when Options.PartialResults is set.
	Partial *Result
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }
