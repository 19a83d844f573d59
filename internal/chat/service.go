// Package chat is the caller-facing entry point: it accepts uploads and chat
// messages, keeps the prescription record and blob in step, and hands each
// turn to the agent exactly once.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/prescription-ai-platform/internal/agent"
	"github.com/wolfman30/prescription-ai-platform/internal/blob"
	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultPresignTTL     = time.Hour
	defaultHistoryLimit   = 50
)

// ErrValidation marks requests rejected before any work is done.
var ErrValidation = errors.New("chat: invalid request")

// BlobStore is the subset of *blob.Store used by the service.
type BlobStore interface {
	Put(ctx context.Context, userID, filename, contentType string, data []byte) (blob.Object, error)
	Delete(ctx context.Context, key string) error
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// TurnRunner answers one chat turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.Request) (string, error)
}

// PrescriptionAnalyzer runs or re-reads the analysis of one record.
type PrescriptionAnalyzer interface {
	Analyze(ctx context.Context, userID string, id int64) (*agent.Analysis, error)
}

// Image is an uploaded prescription photo.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadRequest is one submit-turn call. Text, Image or both must be set.
// PrescriptionID references an earlier upload when no image is attached.
type UploadRequest struct {
	UserID         string
	Text           string
	Image          *Image
	PrescriptionID *int64
}

// TurnResult is returned for every accepted turn.
type TurnResult struct {
	PrescriptionID *int64 `json:"prescription_id,omitempty"`
	UserMessage    string `json:"user_message"`
	AIResponse     string `json:"ai_response"`
}

// DrugInfo is the result of a direct product lookup.
type DrugInfo struct {
	Info    *drug.Info `json:"info"`
	Summary string     `json:"summary"`
}

// Config wires a Service. Drugs backs the direct lookup endpoint; nil
// disables it.
type Config struct {
	Records        prescription.Store
	Blobs          BlobStore
	Agent          TurnRunner
	Analyzer       PrescriptionAnalyzer
	History        conversation.Store
	Drugs          agent.DrugFinder
	Logger         *logging.Logger
	MaxUploadBytes int64
	PresignTTL     time.Duration
	DrugMaxChars   int
}

// Service implements the turn orchestrator and the record operations around it.
type Service struct {
	records        prescription.Store
	blobs          BlobStore
	agent          TurnRunner
	analyzer       PrescriptionAnalyzer
	history        conversation.Store
	drugs          agent.DrugFinder
	logger         *logging.Logger
	maxUploadBytes int64
	presignTTL     time.Duration
	drugMaxChars   int
}

func NewService(cfg Config) *Service {
	if cfg.Records == nil || cfg.Blobs == nil || cfg.Agent == nil || cfg.History == nil {
		panic("chat: records, blobs, agent and history are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	return &Service{
		records:        cfg.Records,
		blobs:          cfg.Blobs,
		agent:          cfg.Agent,
		analyzer:       cfg.Analyzer,
		history:        cfg.History,
		drugs:          cfg.Drugs,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		presignTTL:     cfg.PresignTTL,
		drugMaxChars:   cfg.DrugMaxChars,
	}
}

// MaxUploadBytes is the largest accepted image.
func (s *Service) MaxUploadBytes() int64 { return s.maxUploadBytes }

// HandleUploadAndChat stores an optional image as a pending prescription and
// runs a single agent turn over the text (or the default question).
func (s *Service) HandleUploadAndChat(ctx context.Context, req UploadRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Image == nil {
		return nil, fmt.Errorf("%w: text or image required", ErrValidation)
	}

	rxID := req.PrescriptionID
	if req.Image != nil {
		if err := s.validateImage(req.Image); err != nil {
			return nil, err
		}
		rec, err := s.storeUpload(ctx, req.UserID, req.Image)
		if err != nil {
			return nil, err
		}
		rxID = &rec.ID
		if text == "" {
			text = agent.DefaultQuestion
		}
	}

	answer, err := s.agent.RunTurn(ctx, agent.Request{UserID: req.UserID, Text: text, PrescriptionID: rxID})
	if err != nil {
		return nil, err
	}
	return &TurnResult{PrescriptionID: rxID, UserMessage: text, AIResponse: answer}, nil
}

func (s *Service) validateImage(img *Image) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrValidation)
	}
	if int64(len(img.Data)) > s.maxUploadBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrValidation, s.maxUploadBytes)
	}
	if img.ContentType == "" || img.ContentType == "application/octet-stream" {
		img.ContentType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(img.ContentType, "image/") {
		return fmt.Errorf("%w: unsupported content type %q", ErrValidation, img.ContentType)
	}
	return nil
}

// storeUpload writes the blob then the pending record. A record that cannot be
// created fails the request; the orphaned blob is removed best-effort.
func (s *Service) storeUpload(ctx context.Context, userID string, img *Image) (*prescription.Record, error) {
	obj, err := s.blobs.Put(ctx, userID, img.Filename, img.ContentType, img.Data)
	if err != nil {
		return nil, fmt.Errorf("chat: failed to store image: %w", err)
	}
	rec := &prescription.Record{
		UserID:           userID,
		FileKey:          obj.Key,
		FileURL:          obj.URL,
		OriginalFilename: img.Filename,
		ContentType:      img.ContentType,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := s.blobs.Delete(cleanupCtx, obj.Key); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", "user_id", userID, "key", obj.Key, "error", delErr)
		}
		return nil, fmt.Errorf("chat: failed to create prescription record: %w", err)
	}
	s.logger.Info("prescription uploaded", "user_id", userID, "prescription_id", rec.ID, "key", obj.Key)
	return rec, nil
}

// GetAnalysis returns the user's record without triggering inference.
func (s *Service) GetAnalysis(ctx context.Context, userID string, id int64) (*prescription.Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, prescription.ErrNotFound
	}
	return rec, nil
}

// AnalyzeByID runs analysis for a record that is not yet completed and
// returns the record in its resulting state. A failed analysis is not an
// error here; the returned record carries status failed.
func (s *Service) AnalyzeByID(ctx context.Context, userID string, id int64) (*prescription.Record, error) {
	if s.analyzer == nil {
		return nil, errors.New("chat: analyzer not configured")
	}
	analysis, err := s.analyzer.Analyze(ctx, userID, id)
	switch {
	case err == nil:
		if analysis.Cached {
			return analysis.Record, nil
		}
	case errors.Is(err, agent.ErrAnalysisFailed):
		s.logger.Warn("prescription re-analysis failed", "user_id", userID, "prescription_id", id, "error", err)
	default:
		return nil, err
	}
	return s.GetAnalysis(ctx, userID, id)
}

// ListByUser returns the user's records, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]prescription.Record, error) {
	recs, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []prescription.Record{}
	}
	return recs, nil
}

// Delete removes the record and its image. A missing blob does not block
// deleting the record.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	rec, err := s.GetAnalysis(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, rec.FileKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("failed to delete prescription image", "prescription_id", id, "key", rec.FileKey, "error", err)
	}
	return s.records.Delete(ctx, id)
}

// PresignedURL returns a temporary download URL for the record's image.
func (s *Service) PresignedURL(ctx context.Context, userID string, id int64) (string, error) {
	rec, err := s.GetAnalysis(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignURL(ctx, rec.FileKey, s.presignTTL)
}

// History returns the user's most recent turns, oldest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	turns, err := s.history.Recent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return turns, nil
}

// PrescriptionMessages returns the turns recorded against one of the user's
// prescriptions, oldest first.
func (s *Service) PrescriptionMessages(ctx context.Context, userID string, id int64) ([]conversation.Turn, error) {
	if _, err := s.GetAnalysis(ctx, userID, id); err != nil {
		return nil, err
	}
	turns, err := s.history.ByPrescription(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return turns, nil
}

// LookupDrug queries the product catalogs directly, outside any chat turn.
func (s *Service) LookupDrug(ctx context.Context, name string) (*DrugInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: drug_name required", ErrValidation)
	}
	if s.drugs == nil {
		return nil, errors.New("chat: drug lookup not configured")
	}
	info, err := s.drugs.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return &DrugInfo{Info: info, Summary: drug.Format(info, s.drugMaxChars)}, nil
}

// ClearHistory deletes every turn of the user.
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	return s.history.ClearUser(ctx, userID)
}
