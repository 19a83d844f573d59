package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/prescription-ai-platform/internal/agent"
	"github.com/wolfman30/prescription-ai-platform/internal/blob"
	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
)

type memRecords struct {
	mu        sync.Mutex
	nextID    int64
	byID      map[int64]*prescription.Record
	createErr error
}

func newMemRecords() *memRecords {
	return &memRecords{byID: map[int64]*prescription.Record{}}
}

func (m *memRecords) Create(_ context.Context, rec *prescription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	rec.ID = m.nextID
	rec.Status = prescription.StatusPending
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.byID[rec.ID] = &cp
	return nil
}

func (m *memRecords) Get(_ context.Context, id int64) (*prescription.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) ListByUser(_ context.Context, userID string) ([]prescription.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []prescription.Record
	for _, rec := range m.byID {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRecords) MarkCompleted(_ context.Context, id int64, analysis string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return prescription.ErrNotFound
	}
	if rec.Status != prescription.StatusCompleted {
		rec.Status = prescription.StatusCompleted
		rec.AnalysisText = analysis
		rec.ErrorMessage = ""
	}
	return nil
}

func (m *memRecords) MarkFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return prescription.ErrNotFound
	}
	if rec.Status == prescription.StatusPending {
		rec.Status = prescription.StatusFailed
		rec.ErrorMessage = reason
	}
	return nil
}

func (m *memRecords) ResetForRetry(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return false, prescription.ErrNotFound
	}
	if rec.Status != prescription.StatusFailed {
		return false, nil
	}
	rec.Status = prescription.StatusPending
	return true, nil
}

func (m *memRecords) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return prescription.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, userID, filename, _ string, data []byte) (blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return blob.Object{}, f.putErr
	}
	key := "prescriptions/" + userID + "/" + filename
	f.objects[key] = data
	return blob.Object{Key: key, URL: "https://bucket.example/" + key}, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if _, ok := f.objects[key]; !ok {
		return blob.ErrNotFound
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) PresignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key + "?ttl=" + ttl.String(), nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type recordingAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	answer   string
	err      error
}

func (a *recordingAgent) RunTurn(_ context.Context, req agent.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.err != nil {
		return "", a.err
	}
	return a.answer, nil
}

type stubVision struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubVision) Analyze(context.Context, vision.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

type memHistory struct {
	mu    sync.Mutex
	turns []conversation.Turn
}

func (m *memHistory) Append(_ context.Context, turns ...conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	return nil
}

func (m *memHistory) Recent(_ context.Context, userID string, limit int) ([]conversation.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Turn
	for _, t := range m.turns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memHistory) ByPrescription(_ context.Context, userID string, prescriptionID int64) ([]conversation.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []conversation.Turn{}
	for _, t := range m.turns {
		if t.UserID == userID && t.PrescriptionID != nil && *t.PrescriptionID == prescriptionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memHistory) ClearUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.turns[:0]
	for _, t := range m.turns {
		if t.UserID != userID {
			kept = append(kept, t)
		}
	}
	m.turns = kept
	return nil
}

var errDatabaseDown = errors.New("database down")

// pngBytes is a minimal PNG signature so content sniffing reports image/png.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type noDrugs struct{}

func (noDrugs) Lookup(context.Context, string) (*drug.Info, error) { return nil, drug.ErrNotFound }

// stubDrugs serves lookups from a fixed catalog.
type stubDrugs struct {
	catalog map[string]*drug.Info
	err     error
}

func (s *stubDrugs) Lookup(_ context.Context, name string) (*drug.Info, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.catalog[name]
	if !ok {
		return nil, drug.ErrNotFound
	}
	return info, nil
}
