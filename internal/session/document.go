package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/manash/promptbridge/pkg/models"
)

var ErrHistoryNotArray = errors.New("history must be an array")

// StorageError reports a failed import, export or persistence step. It never
// changes the session status.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Document is the import/export file format.
type Document struct {
	Input     string                  `json:"input"`
	Output    string                  `json:"output"`
	Analysis  *models.Analysis        `json:"analysis"`
	Mode      models.OptimizationMode `json:"mode"`
	TargetAI  models.TargetAI         `json:"targetAI"`
	Timestamp time.Time               `json:"timestamp"`
	History   []models.PromptRecord   `json:"history"`
}

// ExportFileName returns the default export file name for t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("promptbridge-export-%d.json", t.UnixMilli())
}

// importDocument is a partially specified Document. Absent and empty fields
// are left untouched on import; unknown fields are ignored.
type importDocument struct {
	Input    string                  `json:"input"`
	Output   string                  `json:"output"`
	Mode     models.OptimizationMode `json:"mode"`
	TargetAI models.TargetAI         `json:"targetAI"`
	History  json.RawMessage         `json:"history"`

	records    []models.PromptRecord
	hasHistory bool
}

func decodeImport(r io.Reader) (*importDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	if doc.Mode != "" && !doc.Mode.IsValid() {
		return nil, fmt.Errorf("%w %q", models.ErrInvalidMode, doc.Mode)
	}
	if doc.TargetAI != "" && !doc.TargetAI.IsValid() {
		return nil, fmt.Errorf("%w %q", models.ErrInvalidTarget, doc.TargetAI)
	}

	raw := bytes.TrimSpace(doc.History)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] != '[':
		return nil, ErrHistoryNotArray
	default:
		if err := json.Unmarshal(raw, &doc.records); err != nil {
			return nil, fmt.Errorf("invalid history: %w", err)
		}
		for i := range doc.records {
			if err := doc.records[i].Validate(); err != nil {
				return nil, fmt.Errorf("invalid history record %d: %w", i, err)
			}
		}
		doc.hasHistory = true
	}
	return &doc, nil
}

func encodeDocument(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
