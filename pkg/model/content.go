package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ContentPart is a piece of message content. Implementations are closed to
// the types declared in this file.
type ContentPart interface {
	isContentPart()
}

// UserPart is content allowed inside a UserMessage.
type UserPart interface {
	ContentPart
	isUserPart()
}

// AssistantPart is content allowed inside an AssistantMessage.
type AssistantPart interface {
	ContentPart
	isAssistantPart()
}

// TextPart is plain text.
type TextPart struct {
	Text string
}

// ImagePart embeds an image.
type ImagePart struct {
	Image    ImageData
	MimeType string
}

// FilePart embeds an arbitrary file.
type FilePart struct {
	Data     FileData
	MimeType string
}

// ReasoningPart carries model reasoning text.
type ReasoningPart struct {
	Text      string
	Signature string
}

// RedactedReasoningPart carries reasoning the provider returned in encrypted form.
type RedactedReasoningPart struct {
	Data string
}

// ToolCallPart is a model issued request to run a tool. Args holds the raw
// JSON arguments.
type ToolCallPart struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	// ProviderExecuted marks calls the backend already ran, such as a
	// hosted web search. They are reported but never resolved locally.
	ProviderExecuted bool
}

// ToolResultPart is the outcome of running a tool.
type ToolResultPart struct {
	ToolCallID string
	ToolName   string
	Result     string
	IsError    bool
}

func (TextPart) isContentPart()              {}
func (ImagePart) isContentPart()             {}
func (FilePart) isContentPart()              {}
func (ReasoningPart) isContentPart()         {}
func (RedactedReasoningPart) isContentPart() {}
func (ToolCallPart) isContentPart()          {}
func (ToolResultPart) isContentPart()        {}

func (TextPart) isUserPart()  {}
func (ImagePart) isUserPart() {}
func (FilePart) isUserPart()  {}

// Reasoning is reasoning content returned by the model: a ReasoningPart or
// a RedactedReasoningPart.
type Reasoning interface {
	AssistantPart
	isReasoning()
}

func (ReasoningPart) isReasoning()         {}
func (RedactedReasoningPart) isReasoning() {}

func (TextPart) isAssistantPart()              {}
func (ReasoningPart) isAssistantPart()         {}
func (RedactedReasoningPart) isAssistantPart() {}
func (ToolCallPart) isAssistantPart()          {}

// ImageData is one of ImageBase64, ImageURL or ImageBuffer.
type ImageData interface {
	isImageData()
}

type (
	ImageBase64 string
	ImageURL    string
	ImageBuffer []byte
)

func (ImageBase64) isImageData() {}
func (ImageURL) isImageData()    {}
func (ImageBuffer) isImageData() {}

// FileData is one of FileBase64 or FileURL.
type FileData interface {
	isFileData()
}

type (
	FileBase64 string
	FileURL    string
)

func (FileBase64) isFileData() {}
func (FileURL) isFileData()    {}

const (
	partText              = "text"
	partImage             = "image"
	partFile              = "file"
	partReasoning         = "reasoning"
	partRedactedReasoning = "redacted-reasoning"
	partToolCall          = "tool-call"
	partToolResult        = "tool-result"
)

type wirePart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	Data       string          `json:"data,omitempty"`
	Base64     string          `json:"base64,omitempty"`
	URL        string          `json:"url,omitempty"`
	Buffer     []byte          `json:"buffer,omitempty"`
	MimeType   string          `json:"mime_type,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

func partType(p ContentPart) string {
	switch p.(type) {
	case TextPart:
		return partText
	case ImagePart:
		return partImage
	case FilePart:
		return partFile
	case ReasoningPart:
		return partReasoning
	case RedactedReasoningPart:
		return partRedactedReasoning
	case ToolCallPart:
		return partToolCall
	case ToolResultPart:
		return partToolResult
	default:
		return fmt.Sprintf("%T", p)
	}
}

func encodePart(p ContentPart) (wirePart, error) {
	w := wirePart{Type: partType(p)}
	switch v := p.(type) {
	case TextPart:
		w.Text = v.Text
	case ImagePart:
		w.MimeType = v.MimeType
		switch img := v.Image.(type) {
		case ImageBase64:
			w.Base64 = string(img)
		case ImageURL:
			w.URL = string(img)
		case ImageBuffer:
			w.Buffer = img
		default:
			return w, fmt.Errorf("image part: missing data")
		}
	case FilePart:
		w.MimeType = v.MimeType
		switch f := v.Data.(type) {
		case FileBase64:
			w.Base64 = string(f)
		case FileURL:
			w.URL = string(f)
		default:
			return w, fmt.Errorf("file part: missing data")
		}
	case ReasoningPart:
		w.Text = v.Text
		w.Signature = v.Signature
	case RedactedReasoningPart:
		w.Data = v.Data
	case ToolCallPart:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
		w.Args = v.Args
		if len(w.Args) == 0 {
			w.Args = json.RawMessage("{}")
		}
	case ToolResultPart:
		w.ToolCallID = v.ToolCallID
		w.ToolName = v.ToolName
		w.Result = v.Result
		w.IsError = v.IsError
	default:
		return w, fmt.Errorf("unsupported content part %T", p)
	}
	return w, nil
}

func decodePart(w wirePart) (ContentPart, error) {
	switch w.Type {
	case partText:
		return TextPart{Text: w.Text}, nil
	case partImage:
		part := ImagePart{MimeType: w.MimeType}
		switch {
		case w.Base64 != "":
			part.Image = ImageBase64(w.Base64)
		case w.URL != "":
			part.Image = ImageURL(w.URL)
		case len(w.Buffer) > 0:
			part.Image = ImageBuffer(w.Buffer)
		default:
			return nil, fmt.Errorf("image part: missing data")
		}
		return part, nil
	case partFile:
		part := FilePart{MimeType: w.MimeType}
		switch {
		case w.Base64 != "":
			part.Data = FileBase64(w.Base64)
		case w.URL != "":
			part.Data = FileURL(w.URL)
		default:
			return nil, fmt.Errorf("file part: missing data")
		}
		return part, nil
	case partReasoning:
		return ReasoningPart{Text: w.Text, Signature: w.Signature}, nil
	case partRedactedReasoning:
		return RedactedReasoningPart{Data: w.Data}, nil
	case partToolCall:
		return ToolCallPart{ToolCallID: w.ToolCallID, ToolName: w.ToolName, Args: w.Args}, nil
	case partToolResult:
		return ToolResultPart{ToolCallID: w.ToolCallID, ToolName: w.ToolName, Result: w.Result, IsError: w.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown content part type %q", w.Type)
	}
}

func marshalParts[P ContentPart](parts []P) ([]byte, error) {
	wire := make([]wirePart, 0, len(parts))
	for i, p := range parts {
		w, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		wire = append(wire, w)
	}
	return json.Marshal(wire)
}

func unmarshalParts(data []byte) ([]ContentPart, error) {
	var wire []wirePart
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	parts := make([]ContentPart, 0, len(wire))
	for i, w := range wire {
		p, err := decodePart(w)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// ImageBytes returns the raw image bytes for base64 and buffer images. URL
// images return ok=false.
func ImageBytes(img ImageData) ([]byte, bool, error) {
	switch v := img.(type) {
	case ImageBuffer:
		return []byte(v), true, nil
	case ImageBase64:
		data, err := base64.StdEncoding.DecodeString(string(v))
		if err != nil {
			return nil, false, fmt.Errorf("decode image: %w", err)
		}
		return data, true, nil
	default:
		return nil, false, nil
	}
}
