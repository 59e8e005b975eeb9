package gemini

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cexll/aisdk-go/pkg/model"
)

func buildRequest(modelID string, req *model.Request) (*adkmodel.LLMRequest, []model.Warning, error) {
	var warnings []model.Warning
	s := req.Settings

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(s.MaxTokens),
		Temperature:     f32(s.Temperature),
		StopSequences:   s.StopSequences,
	}
	if s.TopP != nil {
		cfg.TopP = f32(*s.TopP)
	}
	if s.TopK != nil {
		cfg.TopK = f32(float64(*s.TopK))
	}
	if s.PresencePenalty != nil {
		cfg.PresencePenalty = f32(*s.PresencePenalty)
	}
	if s.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = f32(*s.FrequencyPenalty)
	}
	if s.Seed != nil {
		seed := int32(*s.Seed)
		cfg.Seed = &seed
	}
	if rf := s.ResponseFormat; rf != nil && rf.Type == model.ResponseFormatJSON {
		cfg.ResponseMIMEType = "application/json"
		if rf.Schema != nil {
			cfg.ResponseJsonSchema = rf.Schema
		}
	}

	system, contents, err := convertMessages(req.System, req.Prompt)
	if err != nil {
		return nil, nil, err
	}
	if system != nil {
		cfg.SystemInstruction = system
	}

	if len(req.Tools) > 0 {
		var toolWarnings []model.Warning
		cfg.Tools, toolWarnings = convertTools(req.Tools)
		warnings = append(warnings, toolWarnings...)
		if req.ToolChoice != nil && len(cfg.Tools) > 0 {
			fc, err := toolConfig(*req.ToolChoice)
			if err != nil {
				return nil, nil, err
			}
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fc}
		}
	}

	if extra := req.ProviderOptions(providerName); len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return nil, nil, model.WrapError(model.KindInvalidArgument, "encode gemini provider options", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, nil, model.WrapError(model.KindInvalidArgument, "decode gemini provider options", err)
		}
	}

	return &adkmodel.LLMRequest{Model: modelID, Contents: contents, Config: cfg}, warnings, nil
}

// convertTools puts function declarations in one genai.Tool and gives each
// "google.*" builtin its own, as the API expects.
func convertTools(defs []model.ToolDefinition) ([]*genai.Tool, []model.Warning) {
	var (
		tools    []*genai.Tool
		decls    []*genai.FunctionDeclaration
		warnings []model.Warning
	)
	for _, def := range defs {
		if !def.IsProviderDefined() {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: def.Parameters,
			})
			continue
		}
		provider, name := def.ProviderTool()
		var t *genai.Tool
		if provider == "google" || provider == providerName {
			switch name {
			case "google_search":
				t = &genai.Tool{GoogleSearch: &genai.GoogleSearch{}}
			case "code_execution":
				t = &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}}
			case "url_context":
				t = &genai.Tool{URLContext: &genai.URLContext{}}
			}
		}
		if t == nil {
			warnings = append(warnings, model.UnsupportedTool(def.Name, "gemini does not provide "+def.ProviderID))
			continue
		}
		tools = append(tools, t)
	}
	if len(decls) > 0 {
		tools = append([]*genai.Tool{{FunctionDeclarations: decls}}, tools...)
	}
	return tools, warnings
}

func toolConfig(choice model.ToolChoice) (*genai.FunctionCallingConfig, error) {
	switch choice.Type {
	case model.ToolChoiceAuto:
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}, nil
	case model.ToolChoiceNone:
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}, nil
	case model.ToolChoiceRequired:
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}, nil
	case model.ToolChoiceTool:
		if choice.ToolName == "" {
			return nil, model.Errorf(model.KindInvalidArgument, "tool choice requires a tool name")
		}
		return &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{choice.ToolName},
		}, nil
	default:
		return nil, model.Errorf(model.KindInvalidArgument, "unknown tool choice %q", choice.Type)
	}
}

func convertMessages(system string, prompt []model.Message) (*genai.Content, []*genai.Content, error) {
	var sys *genai.Content
	addSystem := func(text string) {
		if text == "" {
			return
		}
		if sys == nil {
			sys = &genai.Content{Role: genai.RoleUser}
		}
		sys.Parts = append(sys.Parts, genai.NewPartFromText(text))
	}
	addSystem(system)

	contents := make([]*genai.Content, 0, len(prompt))
	for idx, msg := range prompt {
		switch m := msg.(type) {
		case model.SystemMessage:
			addSystem(m.Content)
		case model.UserMessage:
			parts, err := userParts(m)
			if err != nil {
				return nil, nil, model.WrapError(model.KindInvalidPrompt, "messages["+strconv.Itoa(idx)+"]", err)
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		case model.AssistantMessage:
			parts, err := assistantParts(m)
			if err != nil {
				return nil, nil, model.WrapError(model.KindInvalidPrompt, "messages["+strconv.Itoa(idx)+"]", err)
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case model.ToolMessage:
			parts := make([]*genai.Part, 0, len(m.Content))
			for _, res := range m.Content {
				key := "output"
				if res.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       res.ToolCallID,
					Name:     res.ToolName,
					Response: map[string]any{key: res.Result},
				}})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		}
	}
	return sys, contents, nil
}

func userParts(msg model.UserMessage) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(msg.Content))
	for _, part := range msg.Content {
		switch p := part.(type) {
		case model.TextPart:
			parts = append(parts, genai.NewPartFromText(p.Text))
		case model.ImagePart:
			mime := p.MimeType
			if mime == "" {
				mime = "image/jpeg"
			}
			if url, ok := p.Image.(model.ImageURL); ok {
				parts = append(parts, &genai.Part{FileData: &genai.FileData{MIMEType: mime, FileURI: string(url)}})
				continue
			}
			data, _, err := model.ImageBytes(p.Image)
			if err != nil {
				return nil, err
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
		case model.FilePart:
			switch f := p.Data.(type) {
			case model.FileURL:
				parts = append(parts, &genai.Part{FileData: &genai.FileData{MIMEType: p.MimeType, FileURI: string(f)}})
			case model.FileBase64:
				data, err := base64.StdEncoding.DecodeString(string(f))
				if err != nil {
					return nil, err
				}
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MimeType, Data: data}})
			}
		}
	}
	return parts, nil
}

func assistantParts(msg model.AssistantMessage) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(msg.Content))
	for _, part := range msg.Content {
		switch p := part.(type) {
		case model.TextPart:
			parts = append(parts, genai.NewPartFromText(p.Text))
		case model.ReasoningPart:
			rp := &genai.Part{Text: p.Text, Thought: true}
			if p.Signature != "" {
				if sig, err := base64.StdEncoding.DecodeString(p.Signature); err == nil {
					rp.ThoughtSignature = sig
				}
			}
			parts = append(parts, rp)
		case model.ToolCallPart:
			args := map[string]any{}
			if len(p.Args) > 0 {
				if err := json.Unmarshal(p.Args, &args); err != nil {
					return nil, err
				}
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: p.ToolCallID, Name: p.ToolName, Args: args}})
		}
	}
	return parts, nil
}

func convertResponse(resp *adkmodel.LLMResponse) (*model.Response, error) {
	out := &model.Response{}
	if resp.Content != nil {
		for _, part := range resp.Content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, model.WrapError(model.KindOther, "encode function call args", err)
				}
				if part.FunctionCall.Args == nil {
					args = json.RawMessage("{}")
				}
				out.ToolCalls = append(out.ToolCalls, model.ToolCallPart{
					ToolCallID: part.FunctionCall.ID,
					ToolName:   part.FunctionCall.Name,
					Args:       args,
				})
			case part.InlineData != nil:
				out.Files = append(out.Files, model.NewFileFromBytes(part.InlineData.Data, part.InlineData.MIMEType))
			case part.Thought:
				rp := model.ReasoningPart{Text: part.Text}
				if len(part.ThoughtSignature) > 0 {
					rp.Signature = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
				}
				out.Reasoning = append(out.Reasoning, rp)
			default:
				out.Text += part.Text
			}
		}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.NewUsage(int(u.PromptTokenCount), int(u.CandidatesTokenCount), int(u.TotalTokenCount))
	}
	if g := resp.GroundingMetadata; g != nil {
		for i, chunk := range g.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			out.Sources = append(out.Sources, model.Source{
				SourceType: model.SourceTypeURL,
				ID:         strconv.Itoa(i),
				URL:        chunk.Web.URI,
				Title:      chunk.Web.Title,
			})
		}
	}
	if resp.LogprobsResult != nil {
		if raw, err := json.Marshal(resp.LogprobsResult); err == nil {
			out.Logprobs = raw
		}
	}
	out.FinishReason = mapFinishReason(resp.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

// mapFinishReason maps Gemini reasons. Gemini reports STOP when it calls
// functions, so pending calls take precedence.
func mapFinishReason(reason genai.FinishReason, hasToolCalls bool) model.FinishReason {
	switch string(reason) {
	case "STOP":
		if hasToolCalls {
			return model.FinishReasonToolCalls
		}
		return model.FinishReasonStop
	case "MAX_TOKENS":
		return model.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return model.FinishReasonContentFilter
	case "MALFORMED_FUNCTION_CALL":
		return model.FinishReasonError
	case "", "FINISH_REASON_UNSPECIFIED":
		if hasToolCalls {
			return model.FinishReasonToolCalls
		}
		return model.FinishReasonUnknown
	default:
		return model.FinishReasonOther
	}
}

func f32(v float64) *float32 {
	out := float32(v)
	return &out
}
