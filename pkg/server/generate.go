package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/cexll/aisdk-go/pkg/generate"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/prompt"
)

type generateRequest struct {
	Model    string            `json:"model"`
	System   string            `json:"system"`
	Prompt   string            `json:"prompt"`
	Messages model.MessageList `json:"messages"`
	MaxSteps int               `json:"max_steps"`
	// Settings is overlaid on the server defaults so omitted fields keep
	// their configured values.
	Settings   json.RawMessage   `json:"settings"`
	ToolChoice *model.ToolChoice `json:"tool_choice"`
}

type toolCallJSON struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type toolResultJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error,omitempty"`
}

type stepJSON struct {
	StepType     generate.StepType  `json:"step_type"`
	Text         string             `json:"text"`
	FinishReason model.FinishReason `json:"finish_reason"`
	Usage        model.Usage        `json:"usage"`
	ToolCalls    []toolCallJSON     `json:"tool_calls,omitempty"`
	ToolResults  []toolResultJSON   `json:"tool_results,omitempty"`
	Attempts     int                `json:"attempts"`
}

type generateResponse struct {
	ID           string             `json:"id"`
	Model        string             `json:"model"`
	Text         string             `json:"text"`
	FinishReason model.FinishReason `json:"finish_reason"`
	Usage        model.Usage        `json:"usage"`
	Steps        []stepJSON         `json:"steps"`
	Warnings     []model.Warning    `json:"warnings,omitempty"`
	Sources      []model.Source     `json:"sources,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGenerateRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}

	defaults := s.defaults.Load()
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = defaults.Model
	}
	if modelID == "" {
		writeError(w, r, model.Errorf(model.KindInvalidArgument, "model is required"))
		return
	}
	lm, err := s.cfg.Provider.LanguageModel(modelID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	settings := defaults.Settings
	settings.Headers = settings.Headers.Clone()
	settings.StopSequences = slices.Clone(settings.StopSequences)
	if len(req.Settings) > 0 && !bytes.Equal(bytes.TrimSpace(req.Settings), []byte("null")) {
		if err := json.Unmarshal(req.Settings, &settings); err != nil {
			writeError(w, r, model.WrapError(model.KindInvalidArgument, "decode settings", err))
			return
		}
	}
	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaults.MaxSteps
	}

	id := requestIDFrom(r.Context())
	res, err := generate.GenerateText(r.Context(), lm, generate.Options{
		Prompt: prompt.Prompt{
			System:   req.System,
			Text:     req.Prompt,
			Messages: []model.Message(req.Messages),
		},
		Settings:        &settings,
		Tools:           s.cfg.Tools,
		ToolChoice:      req.ToolChoice,
		MaxSteps:        maxSteps,
		ContinueSteps:   defaults.ContinueSteps,
		ToolConcurrency: defaults.ToolConcurrency,
		PartialResults:  defaults.PartialResults,
		Limiter:         s.cfg.Limiter,
		Logger:          s.cfg.Logger.With().Str("request_id", id).Logger(),
		Metrics:         s.cfg.Metrics,
	})
	if err != nil {
		writeErrorFor(w, r, err, lm.ModelID())
		return
	}
	writeJSON(w, http.StatusOK, newGenerateResponse(id, lm.ModelID(), res))
}

func decodeGenerateRequest(body io.Reader) (*generateRequest, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	var req generateRequest
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, model.Errorf(model.KindInvalidArgument, "request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, model.WrapError(model.KindInvalidArgument, "invalid JSON payload", err)
	}
	if dec.More() {
		return nil, model.Errorf(model.KindInvalidArgument, "invalid JSON payload: trailing data")
	}
	return &req, nil
}

func newGenerateResponse(id, modelID string, res *generate.Result) generateResponse {
	out := generateResponse{
		ID:           id,
		Model:        modelID,
		Text:         res.Text,
		FinishReason: res.FinishReason,
		Usage:        res.Usage,
		Steps:        make([]stepJSON, 0, len(res.Steps)),
		Warnings:     res.Warnings,
		Sources:      res.Sources,
	}
	if res.Response.ModelID != "" {
		out.Model = res.Response.ModelID
	}
	for _, step := range res.Steps {
		sj := stepJSON{
			StepType:     step.StepType,
			Text:         step.Text,
			FinishReason: step.FinishReason,
			Usage:        step.Usage,
			Attempts:     step.Attempts,
		}
		for _, call := range step.ToolCalls {
			sj.ToolCalls = append(sj.ToolCalls, toolCallJSON{ID: call.ToolCallID, Name: call.ToolName, Args: call.Args})
		}
		for _, tr := range step.ToolResults {
			sj.ToolResults = append(sj.ToolResults, toolResultJSON{ID: tr.ToolCallID, Name: tr.ToolName, Result: tr.Result, IsError: tr.IsError})
		}
		out.Steps = append(out.Steps, sj)
	}
	return out
}
