package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cexll/aisdk-go/pkg/model"
)

type fakeLLM struct {
	resp *adkmodel.LLMResponse
	err  error
	seen *adkmodel.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake-gemini" }

func (f *fakeLLM) GenerateContent(_ context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	f.seen = req
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		if stream {
			yield(nil, errors.New("streaming not expected"))
			return
		}
		yield(f.resp, f.err)
	}
}

func TestDoGenerateConvertsRequestAndResponse(t *testing.T) {
	llm := &fakeLLM{resp: &adkmodel.LLMResponse{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
			{Text: "thinking", Thought: true},
			{Text: "Hello "},
			{Text: "there"},
			{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"q": "go"}}},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("png")}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 8, CandidatesTokenCount: 4, TotalTokenCount: 12},
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://go.dev", Title: "Go"}},
			{},
		}},
		FinishReason: genai.FinishReason("STOP"),
	}}
	m := NewModel(llm, "gemini-test")
	require.Equal(t, "gemini", m.Provider())

	topK := 3
	settings := model.DefaultCallSettings()
	settings.TopK = &topK

	resp, err := m.DoGenerate(context.Background(), &model.Request{
		Settings: settings,
		System:   "be brief",
		Prompt: []model.Message{
			model.NewUserText("hi"),
			model.AssistantMessage{Content: []model.AssistantPart{
				model.ToolCallPart{ToolCallID: "c1", ToolName: "lookup", Args: json.RawMessage(`{"q":"rust"}`)},
			}},
			model.ToolMessage{Content: []model.ToolResultPart{{ToolCallID: "c1", ToolName: "lookup", Result: "nope", IsError: true}}},
		},
		Tools:      []model.ToolDefinition{{Name: "lookup", Parameters: map[string]any{"type": "object"}}},
		ToolChoice: &model.ToolChoice{Type: model.ToolChoiceTool, ToolName: "lookup"},
	})
	require.NoError(t, err)

	req := llm.seen
	require.Equal(t, "gemini-test", req.Model)
	require.Len(t, req.Contents, 3)
	require.Equal(t, genai.RoleModel, req.Contents[1].Role)
	require.Equal(t, map[string]any{"error": "nope"}, req.Contents[2].Parts[0].FunctionResponse.Response)
	require.Equal(t, "be brief", req.Config.SystemInstruction.Parts[0].Text)
	require.EqualValues(t, model.DefaultMaxTokens, req.Config.MaxOutputTokens)
	require.EqualValues(t, 3, *req.Config.TopK)
	require.Equal(t, []string{"lookup"}, req.Config.ToolConfig.FunctionCallingConfig.AllowedFunctionNames)
	require.Len(t, req.Config.Tools[0].FunctionDeclarations, 1)

	require.Equal(t, "Hello there", resp.Text)
	require.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	require.Equal(t, model.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	require.JSONEq(t, `{"q":"go"}`, string(resp.ToolCalls[0].Args))
	require.Equal(t, []model.Reasoning{model.ReasoningPart{Text: "thinking"}}, resp.Reasoning)
	require.Len(t, resp.Files, 1)
	require.Equal(t, "cG5n", resp.Files[0].Base64())
	require.Len(t, resp.Sources, 1)
	require.Equal(t, "https://go.dev", resp.Sources[0].URL)
}

func TestDoGenerateErrors(t *testing.T) {
	_, err := NewModel(&fakeLLM{err: genai.APIError{Code: 503, Message: "overloaded"}}, "g").DoGenerate(context.Background(), &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("hi")},
	})
	require.True(t, model.IsRetryable(err))

	_, err = NewModel(&fakeLLM{resp: &adkmodel.LLMResponse{ErrorCode: "NOT_FOUND", ErrorMessage: "no such model"}}, "g").DoGenerate(context.Background(), &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("hi")},
	})
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = NewModel(&fakeLLM{err: context.Canceled}, "g").DoGenerate(context.Background(), &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("hi")},
	})
	require.Equal(t, model.KindCanceled, model.KindOf(err))
}

func TestMapFinishReason(t *testing.T) {
	cases := []struct {
		in    string
		calls bool
		want  model.FinishReason
	}{
		{"STOP", false, model.FinishReasonStop},
		{"STOP", true, model.FinishReasonToolCalls},
		{"MAX_TOKENS", false, model.FinishReasonLength},
		{"SAFETY", false, model.FinishReasonContentFilter},
		{"MALFORMED_FUNCTION_CALL", false, model.FinishReasonError},
		{"", false, model.FinishReasonUnknown},
		{"LANGUAGE", false, model.FinishReasonOther},
	}
	for _, tc := range cases {
		if got := mapFinishReason(genai.FinishReason(tc.in), tc.calls); got != tc.want {
			t.Fatalf("mapFinishReason(%q, %v) = %v, want %v", tc.in, tc.calls, got, tc.want)
		}
	}
}

func TestProviderUsesFactory(t *testing.T) {
	p, err := NewProvider(Settings{APIKey: "key"})
	require.NoError(t, err)
	p.newLLM = func(context.Context, string) (adkmodel.LLM, error) { return &fakeLLM{}, nil }

	lm, err := p.LanguageModel("gemini-2.0-flash")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.0-flash", lm.ModelID())

	_, err = p.LanguageModel("")
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = NewProvider(Settings{})
	require.Error(t, err)
}

func TestDoGenerateBuiltinToolsAndOptions(t *testing.T) {
	llm := &fakeLLM{resp: &adkmodel.LLMResponse{
		Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "Go 1.25"}}},
		FinishReason: genai.FinishReason("STOP"),
	}}
	resp, err := NewModel(llm, "gemini-test").DoGenerate(context.Background(), &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("latest go release?")},
		Tools: []model.ToolDefinition{
			{Name: "search", ProviderID: "google.google_search"},
			{Name: "lookup", Parameters: map[string]any{"type": "object"}},
			{Name: "run", ProviderID: "google.code_execution"},
			{Name: "web", ProviderID: "openai.web_search"},
		},
		ToolChoice: &model.ToolChoice{Type: model.ToolChoiceAuto},
		ProviderMetadata: map[string]any{
			"gemini": map[string]any{"candidateCount": 1, "labels": map[string]any{"team": "sdk"}},
			"openai": map[string]any{"user": "ignored"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Go 1.25", resp.Text)
	require.Equal(t, []model.Warning{model.UnsupportedTool("web", "gemini does not provide openai.web_search")}, resp.Warnings)

	cfg := llm.seen.Config
	require.Len(t, cfg.Tools, 3)
	require.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	require.NotNil(t, cfg.Tools[1].GoogleSearch)
	require.NotNil(t, cfg.Tools[2].CodeExecution)
	require.NotNil(t, cfg.ToolConfig)
	require.EqualValues(t, 1, cfg.CandidateCount)
	require.Equal(t, map[string]string{"team": "sdk"}, cfg.Labels)
	require.EqualValues(t, model.DefaultMaxTokens, cfg.MaxOutputTokens)
}
