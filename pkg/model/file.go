package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// GeneratedFile is a file produced by the model. The payload is kept in the
// form the backend returned and converted on demand.
type GeneratedFile struct {
	MimeType string

	b64   string
	raw   []byte
	isRaw bool
}

// NewFileFromBase64 wraps a base64 payload.
func NewFileFromBase64(data, mimeType string) GeneratedFile {
	return GeneratedFile{MimeType: mimeType, b64: data}
}

// NewFileFromBytes wraps raw bytes.
func NewFileFromBytes(data []byte, mimeType string) GeneratedFile {
	return GeneratedFile{MimeType: mimeType, raw: data, isRaw: true}
}

// Base64 returns the payload encoded as standard base64.
func (f GeneratedFile) Base64() string {
	if f.isRaw {
		return base64.StdEncoding.EncodeToString(f.raw)
	}
	return f.b64
}

// Bytes returns the raw payload.
func (f GeneratedFile) Bytes() ([]byte, error) {
	if f.isRaw {
		return f.raw, nil
	}
	data, err := base64.StdEncoding.DecodeString(f.b64)
	if err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return data, nil
}

func (f GeneratedFile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MimeType string `json:"mime_type"`
		Base64   string `json:"base64"`
	}{f.MimeType, f.Base64()})
}
