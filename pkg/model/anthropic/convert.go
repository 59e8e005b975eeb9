package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/cexll/aisdk-go/pkg/model"
)

func buildParams(modelID string, req *model.Request) (anthropicsdk.MessageNewParams, []model.Warning, error) {
	s := req.Settings
	system, messages, warnings := convertMessages(req.System, req.Prompt)

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(modelID),
		MaxTokens:   int64(s.MaxTokens),
		Messages:    messages,
		Temperature: anthropicsdk.Float(s.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	if s.TopP != nil {
		params.TopP = anthropicsdk.Float(*s.TopP)
	}
	if s.TopK != nil {
		params.TopK = anthropicsdk.Int(int64(*s.TopK))
	}
	if len(s.StopSequences) > 0 {
		params.StopSequences = s.StopSequences
	}
	if s.PresencePenalty != nil {
		warnings = append(warnings, model.UnsupportedSetting("presence_penalty", ""))
	}
	if s.FrequencyPenalty != nil {
		warnings = append(warnings, model.UnsupportedSetting("frequency_penalty", ""))
	}
	if s.Seed != nil {
		warnings = append(warnings, model.UnsupportedSetting("seed", ""))
	}
	if s.ResponseFormat != nil && s.ResponseFormat.Type == model.ResponseFormatJSON {
		warnings = append(warnings, model.UnsupportedSetting("response_format", "JSON output is not supported"))
	}

	if len(req.Tools) == 0 {
		return params, warnings, nil
	}
	tools, toolWarnings := convertTools(req.Tools)
	warnings = append(warnings, toolWarnings...)
	if len(tools) == 0 {
		return params, warnings, nil
	}
	choice := model.ToolChoice{Type: model.ToolChoiceAuto}
	if req.ToolChoice != nil {
		choice = *req.ToolChoice
	}
	switch choice.Type {
	case model.ToolChoiceNone:
		// Tools stay declared so earlier tool_use blocks in the history
		// remain valid.
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfNone: &anthropicsdk.ToolChoiceNoneParam{}}
	case model.ToolChoiceAuto:
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAuto: &anthropicsdk.ToolChoiceAutoParam{}}
	case model.ToolChoiceRequired:
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAny: &anthropicsdk.ToolChoiceAnyParam{}}
	case model.ToolChoiceTool:
		if choice.ToolName == "" {
			return params, nil, model.Errorf(model.KindInvalidArgument, "tool choice requires a tool name")
		}
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfTool: &anthropicsdk.ToolChoiceToolParam{Name: choice.ToolName}}
	default:
		return params, nil, model.Errorf(model.KindInvalidArgument, "unknown tool choice %q", choice.Type)
	}
	params.Tools = tools
	return params, warnings, nil
}

// convertMessages splits system text out of the prompt and merges
// consecutive turns of the same role, since tool results travel inside user
// turns.
func convertMessages(system string, prompt []model.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam, []model.Warning) {
	var (
		systemBlocks []anthropicsdk.TextBlockParam
		out          []anthropicsdk.MessageParam
		warnings     []model.Warning
	)
	if strings.TrimSpace(system) != "" {
		systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: system})
	}

	push := func(role anthropicsdk.MessageParamRole, blocks []anthropicsdk.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			blocks = []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")}
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropicsdk.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range prompt {
		switch m := msg.(type) {
		case model.SystemMessage:
			if strings.TrimSpace(m.Content) != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: m.Content})
			}
		case model.UserMessage:
			blocks, w := userBlocks(m)
			warnings = append(warnings, w...)
			push(anthropicsdk.MessageParamRoleUser, blocks)
		case model.AssistantMessage:
			push(anthropicsdk.MessageParamRoleAssistant, assistantBlocks(m))
		case model.ToolMessage:
			push(anthropicsdk.MessageParamRoleUser, toolResultBlocks(m))
		}
	}
	return systemBlocks, out, warnings
}

func userBlocks(msg model.UserMessage) ([]anthropicsdk.ContentBlockParamUnion, []model.Warning) {
	var (
		blocks   []anthropicsdk.ContentBlockParamUnion
		warnings []model.Warning
	)
	for _, part := range msg.Content {
		switch p := part.(type) {
		case model.TextPart:
			blocks = append(blocks, anthropicsdk.NewTextBlock(p.Text))
		case model.ImagePart:
			mime := p.MimeType
			if mime == "" {
				mime = "image/jpeg"
			}
			switch img := p.Image.(type) {
			case model.ImageBase64:
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(mime, string(img)))
			case model.ImageBuffer:
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(mime, base64.StdEncoding.EncodeToString(img)))
			default:
				warnings = append(warnings, model.OtherWarning("image urls are not supported; part dropped"))
			}
		case model.FilePart:
			warnings = append(warnings, model.OtherWarning("file parts are not supported; part dropped"))
		}
	}
	return blocks, warnings
}

func assistantBlocks(msg model.AssistantMessage) []anthropicsdk.ContentBlockParamUnion {
	var blocks []anthropicsdk.ContentBlockParamUnion
	for _, part := range msg.Content {
		switch p := part.(type) {
		case model.ReasoningPart:
			blocks = append(blocks, anthropicsdk.NewThinkingBlock(p.Signature, p.Text))
		case model.RedactedReasoningPart:
			blocks = append(blocks, anthropicsdk.NewRedactedThinkingBlock(p.Data))
		case model.TextPart:
			if p.Text != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(p.Text))
			}
		case model.ToolCallPart:
			if p.ProviderExecuted {
				continue
			}
			args := p.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropicsdk.NewToolUseBlock(p.ToolCallID, args, p.ToolName))
		}
	}
	return blocks
}

func toolResultBlocks(msg model.ToolMessage) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.Content))
	for _, res := range msg.Content {
		block := anthropicsdk.ToolResultBlockParam{
			ToolUseID: res.ToolCallID,
			Content: []anthropicsdk.ToolResultBlockParamContentUnion{
				{OfText: &anthropicsdk.TextBlockParam{Text: res.Result}},
			},
		}
		if res.IsError {
			block.IsError = anthropicsdk.Bool(true)
		}
		blocks = append(blocks, anthropicsdk.ContentBlockParamUnion{OfToolResult: &block})
	}
	return blocks
}

func convertTools(defs []model.ToolDefinition) ([]anthropicsdk.ToolUnionParam, []model.Warning) {
	var warnings []model.Warning
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.IsProviderDefined() {
			t, ok := providerTool(def)
			if !ok {
				warnings = append(warnings, model.UnsupportedTool(def.Name, "anthropic does not provide "+def.ProviderID))
				continue
			}
			out = append(out, t)
			continue
		}
		tool := anthropicsdk.ToolParam{
			Name:        def.Name,
			InputSchema: inputSchema(def.Parameters),
		}
		if def.Description != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, warnings
}

// providerTool maps "anthropic.*" ids onto the Messages API builtin tools.
// The bash and text editor tools run on the client and are answered by the
// tool registered under the name the API uses ("bash",
// "str_replace_editor").
func providerTool(def model.ToolDefinition) (anthropicsdk.ToolUnionParam, bool) {
	provider, name := def.ProviderTool()
	if provider != providerName {
		return anthropicsdk.ToolUnionParam{}, false
	}
	args := def.ProviderArgs
	switch name {
	case "web_search_20250305":
		ws := anthropicsdk.WebSearchTool20250305Param{
			AllowedDomains: model.StringsArg(args, "allowed_domains"),
			BlockedDomains: model.StringsArg(args, "blocked_domains"),
		}
		if n, ok := model.IntArg(args, "max_uses"); ok {
			ws.MaxUses = anthropicsdk.Int(n)
		}
		return anthropicsdk.ToolUnionParam{OfWebSearchTool20250305: &ws}, true
	case "bash_20250124":
		return anthropicsdk.ToolUnionParam{OfBashTool20250124: &anthropicsdk.ToolBash20250124Param{}}, true
	case "text_editor_20250124":
		return anthropicsdk.ToolUnionParam{OfTextEditor20250124: &anthropicsdk.ToolTextEditor20250124Param{}}, true
	default:
		return anthropicsdk.ToolUnionParam{}, false
	}
}

func inputSchema(params map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := params["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := params["required"].([]string); ok {
		schema.Required = req
	} else if req, ok := params["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func convertResponse(msg *anthropicsdk.Message) *model.Response {
	resp := &model.Response{
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage:        model.NewUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), 0),
		Response: model.ResponseMetadata{
			ID:      msg.ID,
			ModelID: string(msg.Model),
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
			for _, c := range block.Citations {
				if c.Type != "web_search_result_location" || c.URL == "" {
					continue
				}
				resp.Sources = append(resp.Sources, model.Source{
					SourceType: model.SourceTypeURL,
					ID:         strconv.Itoa(len(resp.Sources)),
					URL:        c.URL,
					Title:      c.Title,
				})
			}
		case "server_tool_use":
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCallPart{
				ToolCallID:       block.ID,
				ToolName:         block.Name,
				Args:             append(json.RawMessage(nil), block.Input...),
				ProviderExecuted: true,
			})
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCallPart{
				ToolCallID: block.ID,
				ToolName:   block.Name,
				Args:       append(json.RawMessage(nil), args...),
			})
		case "thinking":
			resp.Reasoning = append(resp.Reasoning, model.ReasoningPart{Text: block.Thinking, Signature: block.Signature})
		case "redacted_thinking":
			resp.Reasoning = append(resp.Reasoning, model.RedactedReasoningPart{Data: block.Data})
		}
	}
	resp.Text = strings.Join(text, "")
	return resp
}

func mapStopReason(reason string) model.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return model.FinishReasonStop
	case "max_tokens":
		return model.FinishReasonLength
	case "tool_use":
		return model.FinishReasonToolCalls
	case "refusal":
		return model.FinishReasonContentFilter
	case "":
		return model.FinishReasonUnknown
	default:
		return model.FinishReasonOther
	}
}
