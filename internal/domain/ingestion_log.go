package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry records one failed ingestion attempt of a file.
type IngestionLogEntry struct {
	ID           uuid.UUID     `json:"id"`
	FileID       uuid.UUID     `json:"file_id"`
	FileName     string        `json:"file_name"`
	Reason       FailureReason `json:"reason"`
	LineNumber   *int          `json:"line_number,omitempty"`
	ErrorMessage string        `json:"error_message"`
	CreatedAt    time.Time     `json:"created_at"`
}
