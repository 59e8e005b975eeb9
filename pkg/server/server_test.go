package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/aisdk-go/pkg/metrics"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/tool"
)

type stubModel struct {
	id string

	mu       sync.Mutex
	requests []*model.Request
	replies  []func(*model.Request) (*model.Response, error)
}

func (m *stubModel) Provider() string { return "stub" }
func (m *stubModel) ModelID() string  { return m.id }

func (m *stubModel) DoGenerate(_ context.Context, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx](req)
}

type stubProvider struct {
	model *stubModel
}

func (p *stubProvider) LanguageModel(id string) (model.LanguageModel, error) {
	if id != p.model.id {
		return nil, &model.ProviderError{Kind: model.ProviderModelNotFound, Provider: "stub", Message: "no model " + id}
	}
	return p.model, nil
}

func (p *stubProvider) Headers() (http.Header, error) { return http.Header{}, nil }

func textReply(text string) func(*model.Request) (*model.Response, error) {
	return func(*model.Request) (*model.Response, error) {
		return &model.Response{Text: text, FinishReason: model.FinishReasonStop, Usage: model.NewUsage(3, 2, 5)}, nil
	}
}

func failReply(err error) func(*model.Request) (*model.Response, error) {
	return func(*model.Request) (*model.Response, error) { return nil, err }
}

func newTestServer(t *testing.T, lm *stubModel, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Provider: &stubProvider{model: lm},
		Defaults: Defaults{Model: lm.id, MaxSteps: 3},
		Metrics:  metrics.New(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubModel{id: "m", replies: nil}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestGenerateWithToolRoundTrip(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){
		func(*model.Request) (*model.Response, error) {
			return &model.Response{
				ToolCalls: []model.ToolCallPart{{
					ToolCallID: "call_1",
					ToolName:   "add",
					Args:       json.RawMessage(`{"a":2,"b":3}`),
				}},
				FinishReason: model.FinishReasonToolCalls,
				Usage:        model.NewUsage(4, 1, 5),
			}, nil
		},
		textReply("five"),
	}}
	type addArgs struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	tools := tool.Set{"add": tool.New("adds numbers", map[string]any{"type": "object"},
		func(_ context.Context, args addArgs, _ tool.ExecutionOptions) (int, error) {
			return args.A + args.B, nil
		})}
	srv := newTestServer(t, lm, func(c *Config) { c.Tools = tools })

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"system":"be brief","prompt":"2+3?"}`))
	req.Header.Set(requestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "req-7", rec.Header().Get(requestIDHeader))

	var out struct {
		ID           string `json:"id"`
		Model        string `json:"model"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		Usage        model.Usage
		Steps        []struct {
			StepType    string `json:"step_type"`
			ToolCalls   []toolCallJSON
			ToolResults []toolResultJSON `json:"tool_results"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "req-7", out.ID)
	require.Equal(t, "m", out.Model)
	require.Equal(t, "five", out.Text)
	require.Equal(t, "stop", out.FinishReason)
	require.Equal(t, model.NewUsage(7, 3, 10), out.Usage)
	require.Len(t, out.Steps, 2)
	require.Equal(t, "initial", out.Steps[0].StepType)
	require.Equal(t, "tool-result", out.Steps[1].StepType)
	require.Len(t, out.Steps[0].ToolResults, 1)
	require.Equal(t, "5", out.Steps[0].ToolResults[0].Result)

	require.Len(t, lm.requests, 2)
	require.Equal(t, "be brief", lm.requests[0].System)
	require.Len(t, lm.requests[0].Tools, 1)
}

func TestGenerateMessagesAndSettingsOverlay(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){textReply("hi")}}
	srv := newTestServer(t, lm, func(c *Config) {
		c.Defaults.Settings = model.DefaultCallSettings()
		c.Defaults.Settings.Temperature = 0.2
	})

	rec := post(t, srv, `{"messages":[{"role":"user","content":"hello"}],"settings":{"max_tokens":64}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, lm.requests, 1)
	got := lm.requests[0]
	require.Equal(t, model.InputFormatMessages, got.InputFormat)
	require.Equal(t, 64, got.Settings.MaxTokens)
	require.InDelta(t, 0.2, got.Settings.Temperature, 1e-9)
}

func TestUpdateDefaults(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){textReply("hi")}}
	srv := newTestServer(t, lm, nil)
	settings := model.DefaultCallSettings()
	settings.MaxTokens = 99
	srv.UpdateDefaults(Defaults{Model: "m", Settings: settings})

	require.Equal(t, http.StatusOK, post(t, srv, `{"prompt":"x"}`).Code)
	require.Equal(t, 99, lm.requests[0].Settings.MaxTokens)

	srv.UpdateDefaults(Defaults{Model: "gone"})
	require.Equal(t, http.StatusNotFound, post(t, srv, `{"prompt":"x"}`).Code)
}

func TestGenerateErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		reply  func(*model.Request) (*model.Response, error)
		status int
		kind   string
	}{
		{name: "bad json", body: `{"prompt":`, status: http.StatusBadRequest, kind: "invalid_argument"},
		{name: "unknown field", body: `{"prompt":"x","bogus":1}`, status: http.StatusBadRequest, kind: "invalid_argument"},
		{name: "both prompt forms", body: `{"prompt":"x","messages":[{"role":"user","content":"y"}]}`, status: http.StatusBadRequest, kind: "invalid_prompt"},
		{name: "no prompt", body: `{}`, status: http.StatusBadRequest, kind: "invalid_prompt"},
		{name: "unknown model", body: `{"model":"other","prompt":"x"}`, status: http.StatusNotFound, kind: "not_found"},
		{
			name:   "backend not supported",
			body:   `{"prompt":"x"}`,
			reply:  failReply(model.Errorf(model.KindNotSupported, "no images")),
			status: http.StatusNotImplemented,
			kind:   "not_supported",
		},
		{
			name:   "backend down",
			body:   `{"prompt":"x","settings":{"max_retries":0}}`,
			reply:  failReply(model.Errorf(model.KindInternal, "upstream 503")),
			status: http.StatusBadGateway,
			kind:   "internal_error",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reply := tt.reply
			if reply == nil {
				reply = textReply("unused")
			}
			srv := newTestServer(t, &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){reply}}, nil)
			rec := post(t, srv, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.kind, body.Error.Kind)
			require.NotEmpty(t, body.Error.Message)
			require.NotEmpty(t, body.ID)
		})
	}
}

func TestGenerateFailureReportsStep(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){
		failReply(model.Errorf(model.KindInvalidArgument, "bad request")),
	}}
	srv := newTestServer(t, lm, nil)
	rec := post(t, srv, `{"prompt":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Error.Step)
	require.Equal(t, 1, body.Error.Attempts)
	require.Nil(t, body.Partial)
}

func TestGenerateFailureCarriesPartialSteps(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){
		func(*model.Request) (*model.Response, error) {
			return &model.Response{
				Text:         "checking",
				ToolCalls:    []model.ToolCallPart{{ToolCallID: "call_1", ToolName: "ping", Args: json.RawMessage(`{}`)}},
				FinishReason: model.FinishReasonToolCalls,
				Usage:        model.NewUsage(2, 1, 3),
			}, nil
		},
		failReply(model.Errorf(model.KindInvalidArgument, "context too long")),
	}}
	tools := tool.Set{"ping": tool.New("", nil, func(context.Context, struct{}, tool.ExecutionOptions) (string, error) {
		return "pong", nil
	})}
	srv := newTestServer(t, lm, func(c *Config) {
		c.Tools = tools
		c.Defaults.PartialResults = true
	})
	rec := post(t, srv, `{"prompt":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body struct {
		Error   errorDetail       `json:"error"`
		Partial *generateResponse `json:"partial"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Error.Step)
	require.Equal(t, 1, body.Error.Attempts)
	require.NotNil(t, body.Partial)
	require.Equal(t, "checking", body.Partial.Text)
	require.Len(t, body.Partial.Steps, 1)
	require.Equal(t, "pong", body.Partial.Steps[0].ToolResults[0].Result)
	require.Equal(t, 3, body.Partial.Usage.TotalTokens)
}

func TestGenerateMalformedToolArgumentsStillEncode(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){
		func(*model.Request) (*model.Response, error) {
			return &model.Response{
				ToolCalls:    []model.ToolCallPart{{ToolCallID: "call_1", ToolName: "lookup", Args: json.RawMessage(`{"q": "trunc`)}},
				FinishReason: model.FinishReasonLength,
			}, nil
		},
	}}
	srv := newTestServer(t, lm, nil)
	rec := post(t, srv, `{"prompt":"x","max_steps":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.Bytes())

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Steps, 1)
	require.JSONEq(t, `"{\"q\": \"trunc"`, string(resp.Steps[0].ToolCalls[0].Args))
	require.NotEmpty(t, resp.Warnings)
}

func TestWriteJSONReportsEncodeFailure(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"args": json.RawMessage(`{"broken"`)})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "internal_error", body.Error.Kind)
	require.Contains(t, body.Error.Message, "encode response")
}

func TestStatusForCanceled(t *testing.T) {
	t.Parallel()
	require.Equal(t, StatusClientClosedRequest, statusFor(model.KindCanceled))
	require.Equal(t, http.StatusBadGateway, statusFor(model.KindOther))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){textReply("ok")}}
	srv := newTestServer(t, lm, nil)
	require.Equal(t, http.StatusOK, post(t, srv, `{"prompt":"x"}`).Code)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `aisdk_steps_total{finish_reason="stop",provider="stub",step_type="initial"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	lm := &stubModel{id: "m", replies: []func(*model.Request) (*model.Response, error){textReply("ok")}}
	srv := newTestServer(t, lm, func(c *Config) { c.CORSOrigins = []string{"https://app.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubModel{id: "m"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
