package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeMetadata serializes metadata for storage in a scalar text property.
func EncodeMetadata(m DocumentMetadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata parses stored metadata back into its typed form. Unknown
// fields and unsupported file types are rejected.
func DecodeMetadata(raw string) (DocumentMetadata, error) {
	var m DocumentMetadata
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return DocumentMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if dec.More() {
		return DocumentMetadata{}, fmt.Errorf("failed to decode metadata: trailing data")
	}
	if !IsSupportedFileType(m.FileType) {
		return DocumentMetadata{}, fmt.Errorf("failed to decode metadata: unsupported file type %q", m.FileType)
	}
	return m, nil
}
