package model

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation. The set of implementations is
// closed: SystemMessage, UserMessage, AssistantMessage and ToolMessage.
type Message interface {
	Role() Role
	isMessage()
}

// SystemMessage carries instructions for the model.
type SystemMessage struct {
	Content string
}

// UserMessage carries user supplied text, images and files.
type UserMessage struct {
	Content []UserPart
}

// AssistantMessage carries model output: text, reasoning and tool calls.
type AssistantMessage struct {
	Content []AssistantPart
}

// ToolMessage carries the results of tool calls issued by the assistant.
type ToolMessage struct {
	Content []ToolResultPart
}

func (SystemMessage) Role() Role    { return RoleSystem }
func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }
func (ToolMessage) Role() Role      { return RoleTool }

func (SystemMessage) isMessage()    {}
func (UserMessage) isMessage()      {}
func (AssistantMessage) isMessage() {}
func (ToolMessage) isMessage()      {}

// NewUserText builds a user message holding a single text part.
func NewUserText(text string) UserMessage {
	return UserMessage{Content: []UserPart{TextPart{Text: text}}}
}

// Text concatenates the text parts of the message.
func (m UserMessage) Text() string {
	var out string
	for _, part := range m.Content {
		if t, ok := part.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// Text concatenates the text parts of the message.
func (m AssistantMessage) Text() string {
	var out string
	for _, part := range m.Content {
		if t, ok := part.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCalls returns the tool call parts in order.
func (m AssistantMessage) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, part := range m.Content {
		if c, ok := part.(ToolCallPart); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalMessage encodes a message with a role discriminator.
func MarshalMessage(msg Message) ([]byte, error) {
	var (
		content []byte
		err     error
	)
	switch m := msg.(type) {
	case SystemMessage:
		content, err = json.Marshal(m.Content)
	case UserMessage:
		content, err = marshalParts(m.Content)
	case AssistantMessage:
		content, err = marshalParts(m.Content)
	case ToolMessage:
		content, err = marshalParts(m.Content)
	case nil:
		return nil, fmt.Errorf("marshal message: nil message")
	default:
		return nil, fmt.Errorf("marshal message: unsupported type %T", msg)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: msg.Role(), Content: content})
}

// UnmarshalMessage decodes a message produced by MarshalMessage. A user or
// assistant message may also carry a plain string as content.
func UnmarshalMessage(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	var text string
	isText := json.Unmarshal(wire.Content, &text) == nil

	switch wire.Role {
	case RoleSystem:
		if !isText {
			return nil, fmt.Errorf("unmarshal message: system content must be a string")
		}
		return SystemMessage{Content: text}, nil
	case RoleUser:
		if isText {
			return NewUserText(text), nil
		}
		parts, err := unmarshalParts(wire.Content)
		if err != nil {
			return nil, err
		}
		msg := UserMessage{}
		for _, p := range parts {
			up, ok := p.(UserPart)
			if !ok {
				return nil, fmt.Errorf("unmarshal message: %s part not allowed in user message", partType(p))
			}
			msg.Content = append(msg.Content, up)
		}
		return msg, nil
	case RoleAssistant:
		if isText {
			return AssistantMessage{Content: []AssistantPart{TextPart{Text: text}}}, nil
		}
		parts, err := unmarshalParts(wire.Content)
		if err != nil {
			return nil, err
		}
		msg := AssistantMessage{}
		for _, p := range parts {
			ap, ok := p.(AssistantPart)
			if !ok {
				return nil, fmt.Errorf("unmarshal message: %s part not allowed in assistant message", partType(p))
			}
			msg.Content = append(msg.Content, ap)
		}
		return msg, nil
	case RoleTool:
		parts, err := unmarshalParts(wire.Content)
		if err != nil {
			return nil, err
		}
		msg := ToolMessage{}
		for _, p := range parts {
			tr, ok := p.(ToolResultPart)
			if !ok {
				return nil, fmt.Errorf("unmarshal message: %s part not allowed in tool message", partType(p))
			}
			msg.Content = append(msg.Content, tr)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unmarshal message: unknown role %q", wire.Role)
	}
}

// MessageList is a JSON friendly slice of messages.
type MessageList []Message

func (l MessageList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for i, msg := range l {
		data, err := MarshalMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

func (l *MessageList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	out := make(MessageList, 0, len(raw))
	for i, item := range raw {
		msg, err := UnmarshalMessage(item)
		if err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	*l = out
	return nil
}
