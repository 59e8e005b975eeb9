package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/cexll/aisdk-go/pkg/model"
)

func buildParams(modelID string, req *model.Request) (openaisdk.ChatCompletionNewParams, []model.Warning, error) {
	var warnings []model.Warning

	messages, err := convertMessages(req.System, req.Prompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, nil, err
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(modelID),
		Messages:    messages,
		Temperature: openaisdk.Float(req.Settings.Temperature),
	}

	s := req.Settings
	if s.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(s.MaxTokens))
	}
	if s.TopP != nil {
		params.TopP = openaisdk.Float(*s.TopP)
	}
	if s.TopK != nil {
		warnings = append(warnings, model.UnsupportedSetting("top_k", "openai chat completions has no top_k"))
	}
	if s.PresencePenalty != nil {
		params.PresencePenalty = openaisdk.Float(*s.PresencePenalty)
	}
	if s.FrequencyPenalty != nil {
		params.FrequencyPenalty = openaisdk.Float(*s.FrequencyPenalty)
	}
	if s.Seed != nil {
		params.Seed = openaisdk.Int(*s.Seed)
	}
	if len(s.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: s.StopSequences}
	}
	if rf := s.ResponseFormat; rf != nil && rf.Type == model.ResponseFormatJSON {
		if rf.Schema != nil {
			name := rf.Name
			if name == "" {
				name = "response"
			}
			schema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: rf.Schema,
				Strict: openaisdk.Bool(true),
			}
			if rf.Description != "" {
				schema.Description = openaisdk.String(rf.Description)
			}
			params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: schema},
			}
		} else {
			params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	if len(req.Tools) > 0 {
		tools, search, toolWarnings := convertTools(req.Tools)
		warnings = append(warnings, toolWarnings...)
		if search != nil {
			params.WebSearchOptions = *search
		}
		if len(tools) == 0 {
			return params, warnings, nil
		}
		params.Tools = tools
		if req.ToolChoice != nil {
			choice, err := convertToolChoice(*req.ToolChoice)
			if err != nil {
				return openaisdk.ChatCompletionNewParams{}, nil, err
			}
			params.ToolChoice = choice
		}
	}
	return params, warnings, nil
}

func convertMessages(system string, prompt []model.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(prompt)+1)
	if system != "" {
		out = append(out, openaisdk.SystemMessage(system))
	}
	for idx, msg := range prompt {
		switch m := msg.(type) {
		case model.SystemMessage:
			out = append(out, openaisdk.SystemMessage(m.Content))
		case model.UserMessage:
			user, err := buildUserMessage(m)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", idx, err)
			}
			out = append(out, user)
		case model.AssistantMessage:
			out = append(out, buildAssistantMessage(m))
		case model.ToolMessage:
			for _, res := range m.Content {
				out = append(out, openaisdk.ToolMessage(res.Result, res.ToolCallID))
			}
		default:
			return nil, model.Errorf(model.KindInvalidPrompt, "messages[%d]: unsupported message %T", idx, msg)
		}
	}
	return out, nil
}

func buildUserMessage(msg model.UserMessage) (openaisdk.ChatCompletionMessageParamUnion, error) {
	if len(msg.Content) == 1 {
		if text, ok := msg.Content[0].(model.TextPart); ok {
			return openaisdk.UserMessage(text.Text), nil
		}
	}
	parts := make([]openaisdk.ChatCompletionContentPartUnionParam, 0, len(msg.Content))
	for i, part := range msg.Content {
		switch p := part.(type) {
		case model.TextPart:
			parts = append(parts, openaisdk.TextContentPart(p.Text))
		case model.ImagePart:
			url, err := imageURL(p)
			if err != nil {
				return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("content[%d]: %w", i, err)
			}
			parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: url}))
		case model.FilePart:
			data, ok := p.Data.(model.FileBase64)
			if !ok {
				return openaisdk.ChatCompletionMessageParamUnion{}, model.Errorf(model.KindNotSupported, "content[%d]: file urls are not supported", i)
			}
			parts = append(parts, openaisdk.FileContentPart(openaisdk.ChatCompletionContentPartFileFileParam{
				FileData: openaisdk.String(dataURL(p.MimeType, string(data))),
			}))
		}
	}
	user := openaisdk.ChatCompletionUserMessageParam{}
	user.Content.OfArrayOfContentParts = parts
	return openaisdk.ChatCompletionMessageParamUnion{OfUser: &user}, nil
}

func imageURL(p model.ImagePart) (string, error) {
	mime := p.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	switch img := p.Image.(type) {
	case model.ImageURL:
		return string(img), nil
	case model.ImageBase64:
		return dataURL(mime, string(img)), nil
	case model.ImageBuffer:
		return dataURL(mime, base64.StdEncoding.EncodeToString(img)), nil
	default:
		return "", model.Errorf(model.KindInvalidPrompt, "image part has no data")
	}
}

func dataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

func buildAssistantMessage(msg model.AssistantMessage) openaisdk.ChatCompletionMessageParamUnion {
	asst := openaisdk.ChatCompletionAssistantMessageParam{}
	text := msg.Text()
	calls := msg.ToolCalls()
	if text != "" || len(calls) == 0 {
		asst.Content.OfString = openaisdk.String(text)
	}
	for _, call := range calls {
		args := string(call.Args)
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		asst.ToolCalls = append(asst.ToolCalls, openaisdk.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaisdk.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ToolCallID,
				Function: openaisdk.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.ToolName,
					Arguments: args,
				},
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func convertTools(defs []model.ToolDefinition) ([]openaisdk.ChatCompletionToolUnionParam, *openaisdk.ChatCompletionNewParamsWebSearchOptions, []model.Warning) {
	var (
		search   *openaisdk.ChatCompletionNewParamsWebSearchOptions
		warnings []model.Warning
	)
	out := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.IsProviderDefined() {
			provider, name := def.ProviderTool()
			if provider != providerName || (name != "web_search" && name != "web_search_preview") {
				warnings = append(warnings, model.UnsupportedTool(def.Name, "openai chat completions does not provide "+def.ProviderID))
				continue
			}
			search = webSearchOptions(def.ProviderArgs)
			continue
		}
		fn := openaisdk.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = openaisdk.String(def.Description)
		}
		if len(def.Parameters) > 0 {
			fn.Parameters = openaisdk.FunctionParameters(def.Parameters)
		}
		out = append(out, openaisdk.ChatCompletionToolUnionParam{
			OfFunction: &openaisdk.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return out, search, warnings
}

// webSearchOptions turns "openai.web_search" args into the search options
// of a search-preview model. Search runs server side; no tool call comes back.
func webSearchOptions(args map[string]any) *openaisdk.ChatCompletionNewParamsWebSearchOptions {
	opts := &openaisdk.ChatCompletionNewParamsWebSearchOptions{}
	switch model.StringArg(args, "search_context_size") {
	case "low":
		opts.SearchContextSize = "low"
	case "medium":
		opts.SearchContextSize = "medium"
	case "high":
		opts.SearchContextSize = "high"
	}
	return opts
}

func convertToolChoice(choice model.ToolChoice) (openaisdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Type {
	case model.ToolChoiceAuto, model.ToolChoiceNone, model.ToolChoiceRequired:
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaisdk.String(string(choice.Type))}, nil
	case model.ToolChoiceTool:
		if choice.ToolName == "" {
			return openaisdk.ChatCompletionToolChoiceOptionUnionParam{}, model.Errorf(model.KindInvalidArgument, "tool choice requires a tool name")
		}
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openaisdk.ChatCompletionNamedToolChoiceParam{
				Function: openaisdk.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.ToolName},
			},
		}, nil
	default:
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{}, model.Errorf(model.KindInvalidArgument, "unknown tool choice %q", choice.Type)
	}
}

func convertToolCalls(msg openaisdk.ChatCompletionMessage) ([]model.ToolCallPart, error) {
	calls := make([]model.ToolCallPart, 0, len(msg.ToolCalls))
	for idx, call := range msg.ToolCalls {
		switch call.Type {
		case "function", "":
			fn := call.AsFunction()
			if strings.TrimSpace(fn.Function.Name) == "" {
				return nil, fmt.Errorf("tool_calls[%d]: missing function name", idx)
			}
			calls = append(calls, model.ToolCallPart{
				ToolCallID: fn.ID,
				ToolName:   fn.Function.Name,
				Args:       rawArgs(fn.Function.Arguments),
			})
		case "custom":
			custom := call.AsCustom()
			if strings.TrimSpace(custom.Custom.Name) == "" {
				return nil, fmt.Errorf("tool_calls[%d]: missing custom tool name", idx)
			}
			args := rawArgs(custom.Custom.Input)
			if !json.Valid(args) {
				args, _ = json.Marshal(map[string]string{"input": custom.Custom.Input})
			}
			calls = append(calls, model.ToolCallPart{ToolCallID: custom.ID, ToolName: custom.Custom.Name, Args: args})
		default:
			return nil, fmt.Errorf("tool_calls[%d]: unsupported type %q", idx, call.Type)
		}
	}
	if len(calls) == 0 && strings.TrimSpace(msg.FunctionCall.Name) != "" {
		calls = append(calls, model.ToolCallPart{
			ToolName: msg.FunctionCall.Name,
			Args:     rawArgs(msg.FunctionCall.Arguments),
		})
	}
	return calls, nil
}

func rawArgs(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "content_filter":
		return model.FinishReasonContentFilter
	case "tool_calls", "function_call":
		return model.FinishReasonToolCalls
	case "":
		return model.FinishReasonUnknown
	default:
		return model.FinishReasonOther
	}
}
