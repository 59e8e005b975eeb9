// Package prompt validates caller prompts and turns them into the message
// sequence the generation loop starts from.
package prompt

import (
	"github.com/cexll/aisdk-go/pkg/model"
)

// Kind records which prompt shape the caller used.
type Kind string

const (
	KindText     Kind = "text"
	KindMessages Kind = "messages"
)

// Prompt is the caller supplied input. Exactly one of Text and Messages must
// be set. An empty Text counts as unset; a nil Messages counts as unset
// while a non-nil empty slice is set but invalid.
type Prompt struct {
	System   string
	Text     string
	Messages []model.Message
}

// Standardized is the canonical form of a Prompt.
type Standardized struct {
	Kind     Kind
	System   string
	Messages []model.Message
}

// Standardize validates p and converts it into a non-empty message sequence.
func Standardize(p Prompt) (*Standardized, error) {
	hasText := p.Text != ""
	hasMessages := p.Messages != nil

	switch {
	case !hasText && !hasMessages:
		return nil, model.Errorf(model.KindInvalidPrompt, "must contain either text or messages")
	case hasText && hasMessages:
		return nil, model.Errorf(model.KindInvalidPrompt, "cannot contain both text and messages")
	case hasMessages && len(p.Messages) == 0:
		return nil, model.Errorf(model.KindInvalidPrompt, "messages cannot be empty")
	}

	if hasText {
		return &Standardized{
			Kind:     KindText,
			System:   p.System,
			Messages: []model.Message{model.NewUserText(p.Text)},
		}, nil
	}

	for i, msg := range p.Messages {
		if msg == nil {
			return nil, model.Errorf(model.KindInvalidPrompt, "messages[%d] is nil", i)
		}
	}
	return &Standardized{
		Kind:     KindMessages,
		System:   p.System,
		Messages: append([]model.Message(nil), p.Messages...),
	}, nil
}

// InputFormat maps the prompt kind to the backend input format.
func (s *Standardized) InputFormat() model.InputFormat {
	if s.Kind == KindText {
		return model.InputFormatPrompt
	}
	return model.InputFormatMessages
}
