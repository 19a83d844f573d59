// Package vision talks to vision-language models that read prescription
// images. Clients are stateless and safe for concurrent use; none of them
// retry on their own.
package vision

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates inference did not finish within the client deadline.
	ErrTimeout = errors.New("vision: inference timeout")
	// ErrUpstream is matched by every *UpstreamError.
	ErrUpstream = errors.New("vision: upstream error")
)

// UpstreamError reports a failed or malformed inference response.
type UpstreamError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vision: inference returned %d: %s", e.StatusCode, e.Reason)
	}
	return "vision: inference failed: " + e.Reason
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Image references a stored prescription image.
type Image struct {
	Key         string
	URL         string
	ContentType string
}

// Request is one inference call. PrescriptionID is passed through for
// upstream correlation only.
type Request struct {
	Image          Image
	Question       string
	PrescriptionID int64
}

// Analyzer answers a question about an image.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}
