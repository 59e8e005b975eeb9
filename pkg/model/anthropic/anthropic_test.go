package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/stretchr/testify/require"

	"github.com/cexll/aisdk-go/pkg/model"
)

type fakeMessages struct {
	newFn func(ctx context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error)
	calls int
}

func (f *fakeMessages) New(ctx context.Context, params anthropicsdk.MessageNewParams, _ ...option.RequestOption) (*anthropicsdk.Message, error) {
	f.calls++
	return f.newFn(ctx, params)
}

func TestDoGenerateBuildsRequestAndParsesToolUse(t *testing.T) {
	var seen anthropicsdk.MessageNewParams
	mock := &fakeMessages{
		newFn: func(_ context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error) {
			seen = params
			msg := anthropicsdk.Message{
				ID:    "msg_1",
				Role:  constant.Assistant("assistant"),
				Model: anthropicsdk.Model("claude-test"),
				Content: []anthropicsdk.ContentBlockUnion{
					{Type: "thinking", Thinking: "need search", Signature: "sig"},
					{Type: "redacted_thinking", Data: "opaque"},
					{Type: "text", Text: "done"},
					{Type: "tool_use", ID: "call-1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
				},
				Usage: anthropicsdk.Usage{InputTokens: 10, OutputTokens: 3},
			}
			msg.StopReason = "tool_use"
			return &msg, nil
		},
	}
	m := NewModel(mock, "claude-test")
	require.Equal(t, "anthropic", m.Provider())

	topK := 5
	settings := model.DefaultCallSettings()
	settings.TopK = &topK
	seed := int64(7)
	settings.Seed = &seed

	resp, err := m.DoGenerate(context.Background(), &model.Request{
		Settings: settings,
		System:   "inline-system",
		Prompt: []model.Message{
			model.SystemMessage{Content: "extra"},
			model.NewUserText("hello"),
			model.AssistantMessage{Content: []model.AssistantPart{
				model.ToolCallPart{ToolCallID: "call-0", ToolName: "search", Args: json.RawMessage(`{"q":"rust"}`)},
			}},
			model.ToolMessage{Content: []model.ToolResultPart{{ToolCallID: "call-0", ToolName: "search", Result: "boom", IsError: true}}},
			model.NewUserText("and go?"),
		},
		Tools: []model.ToolDefinition{{
			Name:        "search",
			Description: "desc",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}, "required": []any{"q"}},
		}},
	})
	require.NoError(t, err)

	require.EqualValues(t, model.DefaultMaxTokens, seen.MaxTokens)
	require.Len(t, seen.System, 2)
	// tool result and the following user text share one user turn
	require.Len(t, seen.Messages, 3)
	require.Equal(t, anthropicsdk.MessageParamRoleUser, seen.Messages[2].Role)
	require.Len(t, seen.Messages[2].Content, 2)
	require.NotNil(t, seen.Messages[2].Content[0].OfToolResult)
	require.True(t, seen.Messages[2].Content[0].OfToolResult.IsError.Value)
	require.Len(t, seen.Tools, 1)
	require.Equal(t, "search", seen.Tools[0].OfTool.Name)
	require.Equal(t, []string{"q"}, seen.Tools[0].OfTool.InputSchema.Required)
	require.NotNil(t, seen.ToolChoice.OfAuto)
	require.EqualValues(t, 5, seen.TopK.Value)

	require.Equal(t, "done", resp.Text)
	require.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	require.Equal(t, model.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, resp.Usage)
	require.Equal(t, []model.Reasoning{
		model.ReasoningPart{Text: "need search", Signature: "sig"},
		model.RedactedReasoningPart{Data: "opaque"},
	}, resp.Reasoning)
	require.Len(t, resp.ToolCalls, 1)
	require.JSONEq(t, `{"q":"go"}`, string(resp.ToolCalls[0].Args))
	require.Equal(t, "msg_1", resp.Response.ID)
	require.Equal(t, "claude-test", resp.Response.ModelID)
	require.Equal(t, []model.Warning{model.UnsupportedSetting("seed", "")}, resp.Warnings)
}

func TestToolChoiceNoneKeepsTools(t *testing.T) {
	params, _, err := buildParams("m", &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt: []model.Message{
			model.NewUserText("hi"),
			model.AssistantMessage{Content: []model.AssistantPart{
				model.ToolCallPart{ToolCallID: "call-0", ToolName: "search", Args: json.RawMessage(`{}`)},
			}},
			model.ToolMessage{Content: []model.ToolResultPart{{ToolCallID: "call-0", ToolName: "search", Result: "ok"}}},
		},
		Tools:      []model.ToolDefinition{{Name: "search"}},
		ToolChoice: &model.ToolChoice{Type: model.ToolChoiceNone},
	})
	require.NoError(t, err)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.ToolChoice.OfNone)

	params, _, err = buildParams("m", &model.Request{
		Settings:   model.DefaultCallSettings(),
		Prompt:     []model.Message{model.NewUserText("hi")},
		Tools:      []model.ToolDefinition{{Name: "search"}},
		ToolChoice: &model.ToolChoice{Type: model.ToolChoiceTool, ToolName: "search"},
	})
	require.NoError(t, err)
	require.Equal(t, "search", params.ToolChoice.OfTool.Name)

	_, _, err = buildParams("m", &model.Request{
		Settings:   model.DefaultCallSettings(),
		Tools:      []model.ToolDefinition{{Name: "search"}},
		ToolChoice: &model.ToolChoice{Type: model.ToolChoiceTool},
	})
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestUnsupportedUserPartsWarn(t *testing.T) {
	_, msgs, warnings := convertMessages("", []model.Message{model.UserMessage{Content: []model.UserPart{
		model.ImagePart{Image: model.ImageURL("https://x/cat.png")},
		model.FilePart{Data: model.FileBase64("aGk="), MimeType: "application/pdf"},
		model.ImagePart{Image: model.ImageBuffer([]byte("png")), MimeType: "image/png"},
	}}})
	require.Len(t, warnings, 2)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 1)
	require.NotNil(t, msgs[0].Content[0].OfImage)
}

func apiErr(status int) *anthropicsdk.Error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	return &anthropicsdk.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Request: req},
	}
}

func TestDoGenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind model.ErrorKind
	}{
		{name: "rate limited", err: apiErr(http.StatusTooManyRequests), kind: model.KindInternal},
		{name: "overloaded", err: apiErr(529), kind: model.KindInternal},
		{name: "bad request", err: apiErr(http.StatusBadRequest), kind: model.KindInvalidArgument},
		{name: "not found", err: apiErr(http.StatusNotFound), kind: model.KindNotFound},
		{name: "canceled", err: context.Canceled, kind: model.KindCanceled},
		{name: "unknown", err: errors.New("boom"), kind: model.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &fakeMessages{newFn: func(context.Context, anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error) {
				return nil, tt.err
			}}
			_, err := NewModel(mock, "m").DoGenerate(context.Background(), &model.Request{
				Settings: model.DefaultCallSettings(),
				Prompt:   []model.Message{model.NewUserText("hi")},
			})
			require.Equal(t, tt.kind, model.KindOf(err))
			require.Equal(t, 1, mock.calls)
		})
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]model.FinishReason{
		"end_turn":      model.FinishReasonStop,
		"stop_sequence": model.FinishReasonStop,
		"max_tokens":    model.FinishReasonLength,
		"tool_use":      model.FinishReasonToolCalls,
		"refusal":       model.FinishReasonContentFilter,
		"":              model.FinishReasonUnknown,
		"pause_turn":    model.FinishReasonOther,
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Fatalf("mapStopReason(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestProviderValidation(t *testing.T) {
	_, err := NewProvider(Settings{})
	require.Error(t, err)

	p, err := NewProvider(Settings{APIKey: "sk-ant", BaseURL: "http://local/"})
	require.NoError(t, err)
	_, err = p.LanguageModel("")
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	lm, err := p.LanguageModel("claude-test")
	require.NoError(t, err)
	require.Equal(t, "claude-test", lm.ModelID())

	h, err := p.Headers()
	require.NoError(t, err)
	require.Equal(t, "sk-ant", h.Get("X-Api-Key"))
	require.Equal(t, apiVersion, h.Get("Anthropic-Version"))
}

func TestProviderDefinedTools(t *testing.T) {
	params, warnings, err := buildParams("m", &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("latest go release?")},
		Tools: []model.ToolDefinition{
			{Name: "bash", ProviderID: "anthropic.bash_20250124"},
			{Name: "lookup", Parameters: map[string]any{"type": "object"}},
			{Name: "search", ProviderID: "anthropic.web_search_20250305", ProviderArgs: map[string]any{
				"max_uses":        float64(3),
				"allowed_domains": []any{"go.dev"},
			}},
			{Name: "gsearch", ProviderID: "google.google_search"},
		},
	})
	require.NoError(t, err)
	require.Len(t, params.Tools, 3)
	require.NotNil(t, params.Tools[0].OfBashTool20250124)
	require.Equal(t, "lookup", params.Tools[1].OfTool.Name)
	ws := params.Tools[2].OfWebSearchTool20250305
	require.NotNil(t, ws)
	require.EqualValues(t, 3, ws.MaxUses.Value)
	require.Equal(t, []string{"go.dev"}, ws.AllowedDomains)
	require.Equal(t, []model.Warning{model.UnsupportedTool("gsearch", "anthropic does not provide google.google_search")}, warnings)

	body, err := json.Marshal(params.Tools[2])
	require.NoError(t, err)
	require.Contains(t, string(body), `"web_search_20250305"`)
}

func TestServerToolUseAndCitations(t *testing.T) {
	msg := &anthropicsdk.Message{
		Content: []anthropicsdk.ContentBlockUnion{
			{Type: "server_tool_use", ID: "srvtoolu_1", Name: "web_search", Input: json.RawMessage(`{"query":"go 1.25"}`)},
			{Type: "web_search_tool_result"},
			{Type: "text", Text: "Go 1.25 is out.", Citations: []anthropicsdk.TextCitationUnion{
				{Type: "web_search_result_location", URL: "https://go.dev/doc/go1.25", Title: "Go 1.25 Release Notes"},
				{Type: "char_location"},
			}},
		},
	}
	msg.StopReason = "end_turn"
	resp := convertResponse(msg)
	require.Equal(t, "Go 1.25 is out.", resp.Text)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	require.True(t, resp.ToolCalls[0].ProviderExecuted)
	require.Equal(t, "web_search", resp.ToolCalls[0].ToolName)
	require.Equal(t, []model.Source{{
		SourceType: model.SourceTypeURL,
		ID:         "0",
		URL:        "https://go.dev/doc/go1.25",
		Title:      "Go 1.25 Release Notes",
	}}, resp.Sources)

	blocks := assistantBlocks(model.AssistantMessage{Content: []model.AssistantPart{
		model.TextPart{Text: "Go 1.25 is out."},
		resp.ToolCalls[0],
	}})
	require.Len(t, blocks, 1, "provider executed calls are not replayed as tool_use")
}

func TestProviderMetadataReachesRequestBody(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		mu.Lock()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p, err := NewProvider(Settings{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	lm, err := p.LanguageModel("claude-test")
	require.NoError(t, err)
	resp, err := lm.DoGenerate(context.Background(), &model.Request{
		Settings: model.DefaultCallSettings(),
		Prompt:   []model.Message{model.NewUserText("hi")},
		ProviderMetadata: map[string]any{
			"anthropic": map[string]any{"metadata": map[string]any{"user_id": "u-1"}},
			"openai":    map[string]any{"user": "ignored"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Text)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]any{"user_id": "u-1"}, body["metadata"])
	require.NotContains(t, body, "user")
}
