package model

import (
	"encoding/json"
	"fmt"
)

// FinishReason classifies why a step stopped producing output.
type FinishReason int

const (
	FinishReasonUnknown FinishReason = iota
	FinishReasonStop
	FinishReasonLength
	FinishReasonContentFilter
	FinishReasonToolCalls
	FinishReasonError
	FinishReasonOther
)

var finishReasonNames = map[FinishReason]string{
	FinishReasonUnknown:       "unknown",
	FinishReasonStop:          "stop",
	FinishReasonLength:        "length",
	FinishReasonContentFilter: "content-filter",
	FinishReasonToolCalls:     "tool-calls",
	FinishReasonError:         "error",
	FinishReasonOther:         "other",
}

func (r FinishReason) String() string {
	if name, ok := finishReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseFinishReason maps a name produced by String back to a FinishReason.
// Unrecognised names yield FinishReasonUnknown.
func ParseFinishReason(s string) FinishReason {
	for r, name := range finishReasonNames {
		if name == s {
			return r
		}
	}
	return FinishReasonUnknown
}

func (r FinishReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *FinishReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("finish reason: %w", err)
	}
	*r = ParseFinishReason(s)
	return nil
}
