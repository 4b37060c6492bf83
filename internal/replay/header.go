package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for bundle header documents.
const HeaderSchemaVersion = 1

// ProtocolParameters records the numeric protocol values a session ran with.
type ProtocolParameters map[string]float64

// Clone returns a defensive copy of the parameters.
func (p ProtocolParameters) Clone() ProtocolParameters {
	if len(p) == 0 {
		return nil
	}
	clone := make(ProtocolParameters, len(p))
	for key, value := range p {
		clone[key] = value
	}
	return clone
}

// Header is written when a bundle closes and summarises how the session was run.
type Header struct {
	SchemaVersion  int                `json:"schema_version"`
	SessionID      string             `json:"session_id"`
	Seed           int64              `json:"seed"`
	Protocol       ProtocolParameters `json:"protocol,omitempty"`
	Trials         int                `json:"trials"`
	TotalPoints    int                `json:"total_points"`
	CompletionCode string             `json:"completion_code,omitempty"`
	FilePointer    string             `json:"file_pointer"`
}

// Validate ensures the header contains enough information for bundle tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a bundle header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
