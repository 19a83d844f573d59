// Package prescription persists uploaded prescriptions and their analysis
// lifecycle: pending -> completed | failed, with failed -> pending allowed
// only as an explicit retry.
package prescription

import (
	"context"
	"errors"
	"time"
)

// Status is the analysis lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound indicates the requested prescription does not exist.
var ErrNotFound = errors.New("prescription: not found")

// Record is one uploaded prescription image and its analysis.
type Record struct {
	ID               int64      `json:"id" dynamodbav:"id"`
	UserID           string     `json:"user_id" dynamodbav:"userId"`
	FileKey          string     `json:"file_key" dynamodbav:"fileKey"`
	FileURL          string     `json:"file_url" dynamodbav:"fileUrl"`
	OriginalFilename string     `json:"original_filename,omitempty" dynamodbav:"originalFilename,omitempty"`
	ContentType      string     `json:"content_type,omitempty" dynamodbav:"contentType,omitempty"`
	AnalysisText     string     `json:"ai_analysis,omitempty" dynamodbav:"analysisText,omitempty"`
	Status           Status     `json:"analysis_status" dynamodbav:"status"`
	ErrorMessage     string     `json:"error_message,omitempty" dynamodbav:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt        time.Time  `json:"updated_at" dynamodbav:"updatedAt"`
	AnalyzedAt       *time.Time `json:"analyzed_at,omitempty" dynamodbav:"analyzedAt,omitempty"`
}

// HasAnalysis reports whether the record can be served without inference.
func (r *Record) HasAnalysis() bool {
	return r != nil && r.Status == StatusCompleted && r.AnalysisText != ""
}

// Store persists records. Implementations enforce the lifecycle with
// conditional writes:
//   - MarkCompleted succeeds from pending or failed and never rewrites a
//     completed record.
//   - MarkFailed succeeds only from pending.
//   - ResetForRetry moves failed back to pending and reports whether it did.
//
// Transitions that are not allowed are silent no-ops; only a missing record
// yields ErrNotFound.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id int64) (*Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	MarkCompleted(ctx context.Context, id int64, analysis string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	ResetForRetry(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
}
