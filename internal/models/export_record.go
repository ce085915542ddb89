package models

import (
	"time"

	"github.com/google/uuid"
)

// ExportRecord is the persisted metadata for an archived session export
// (snapshot JSON uploaded to S3).
type ExportRecord struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	S3URL      string    `json:"s3_url,omitempty"`
	S3Key      string    `json:"s3_key,omitempty"`
	TotalBells int       `json:"total_bells"`
	FileSize   int64     `json:"file_size"`
	CreatedAt  time.Time `json:"created_at"`
}
