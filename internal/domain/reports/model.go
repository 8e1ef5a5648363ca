package reports

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("report not found")
)

// Report is a saved report. Definition is stored and returned verbatim.
type Report struct {
	UID         string          `json:"uid"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition"`
	CreatedBy   *string         `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
