package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/prescription-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const finalizeTimeout = 5 * time.Second

// Analysis is the outcome of a successful pipeline run.
type Analysis struct {
	Record *prescription.Record
	Text   string
	Cached bool
}

// Pipeline runs vision inference for a prescription record and stores the
// outcome. Completed records are served from the store.
type Pipeline struct {
	records  prescription.Store
	analyzer vision.Analyzer
	metrics  *metrics.AgentMetrics
	logger   *logging.Logger
	timeout  time.Duration
}

// NewPipeline builds a pipeline. A zero timeout leaves the deadline to the
// analyzer.
func NewPipeline(records prescription.Store, analyzer vision.Analyzer, m *metrics.AgentMetrics, logger *logging.Logger, timeout time.Duration) *Pipeline {
	if records == nil {
		panic("agent: prescription store cannot be nil")
	}
	if analyzer == nil {
		panic("agent: vision analyzer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{records: records, analyzer: analyzer, metrics: m, logger: logger, timeout: timeout}
}

// Analyze returns the analysis for id. Records owned by another user are
// reported as prescription.ErrNotFound. Inference failures come back
// wrapped in ErrAnalysisFailed after the record is marked failed.
func (p *Pipeline) Analyze(ctx context.Context, userID string, id int64) (*Analysis, error) {
	rec, err := p.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, prescription.ErrNotFound
	}
	if rec.Status == prescription.StatusCompleted {
		p.metrics.ObserveAnalysisCacheHit()
		return &Analysis{Record: rec, Text: rec.AnalysisText, Cached: true}, nil
	}
	if rec.Status == prescription.StatusFailed {
		if _, err := p.records.ResetForRetry(ctx, id); err != nil {
			return nil, err
		}
	}

	inferCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		inferCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	start := time.Now()
	text, inferErr := p.analyzer.Analyze(inferCtx, vision.Request{
		Image: vision.Image{
			Key:         rec.FileKey,
			URL:         rec.FileURL,
			ContentType: rec.ContentType,
		},
		Question:       ClinicalPrompt,
		PrescriptionID: id,
	})
	cancel()
	if inferErr != nil && errors.Is(inferCtx.Err(), context.DeadlineExceeded) && !errors.Is(inferErr, vision.ErrTimeout) {
		inferErr = fmt.Errorf("%w: %w", vision.ErrTimeout, inferErr)
	}
	elapsed := time.Since(start).Seconds()

	// The request may already be cancelled; the record must still leave pending.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finalCancel()

	if inferErr != nil {
		p.metrics.ObserveInference(inferenceOutcome(inferErr), elapsed)
		p.logger.Error("prescription analysis failed", "prescription_id", id, "user_id", userID, "error", inferErr)
		if err := p.records.MarkFailed(finalCtx, id, inferErr.Error()); err != nil {
			p.logger.Error("failed to mark prescription failed", "prescription_id", id, "error", err)
		}
		rec.Status = prescription.StatusFailed
		rec.ErrorMessage = inferErr.Error()
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, inferErr)
	}

	p.metrics.ObserveInference("ok", elapsed)
	if err := p.records.MarkCompleted(finalCtx, id, text); err != nil {
		p.logger.Error("failed to store prescription analysis", "prescription_id", id, "error", err)
	}
	now := time.Now().UTC()
	rec.Status = prescription.StatusCompleted
	rec.AnalysisText = text
	rec.AnalyzedAt = &now
	return &Analysis{Record: rec, Text: text}, nil
}

func inferenceOutcome(err error) string {
	if errors.Is(err, vision.ErrTimeout) {
		return "timeout"
	}
	return "error"
}
