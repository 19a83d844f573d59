package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/llm"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
)

type memRecords struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*prescription.Record
	resets int
}

func newMemRecords() *memRecords {
	return &memRecords{byID: map[int64]*prescription.Record{}}
}

func (m *memRecords) add(userID string, status prescription.Status, analysis string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.byID[m.nextID] = &prescription.Record{
		ID:           m.nextID,
		UserID:       userID,
		FileKey:      "prescriptions/" + userID + "/scan.jpg",
		FileURL:      "https://bucket/prescriptions/" + userID + "/scan.jpg",
		ContentType:  "image/jpeg",
		Status:       status,
		AnalysisText: analysis,
		CreatedAt:    time.Now(),
	}
	return m.nextID
}

func (m *memRecords) status(id int64) prescription.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

func (m *memRecords) Create(_ context.Context, rec *prescription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	rec.Status = prescription.StatusPending
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
	m.resets++
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

type fakeAnalyzer struct {
	calls   atomic.Int32
	analyze func(ctx context.Context, req vision.Request) (string, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req vision.Request) (string, error) {
	f.calls.Add(1)
	if f.analyze == nil {
		return "阿莫西林胶囊 500mg 每日三次", nil
	}
	return f.analyze(ctx, req)
}

type fakeDrugs struct {
	mu    sync.Mutex
	names []string
	info  map[string]*drug.Info
	err   error
}

func (f *fakeDrugs) Lookup(_ context.Context, name string) (*drug.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.info[name]; ok {
		return info, nil
	}
	return nil, drug.ErrNotFound
}

func (f *fakeDrugs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names)
}

type memHistory struct {
	mu    sync.Mutex
	turns []conversation.Turn
	err   error
}

func (m *memHistory) Append(_ context.Context, turns ...conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
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

func (m *memHistory) ByPrescription(context.Context, string, int64) ([]conversation.Turn, error) {
	return []conversation.Turn{}, nil
}

func (m *memHistory) ClearUser(context.Context, string) error { return nil }

func (m *memHistory) all() []conversation.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Turn(nil), m.turns...)
}

// scriptedLLM replays canned completions and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return llm.Response{}, s.err
	}
	if len(s.responses) == 0 {
		return llm.Response{Text: "Final Answer: 잘 모르겠습니다."}, nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return llm.Response{Text: strings.TrimSpace(next)}, nil
}

var tylenol = &drug.Info{
	Name:         "타이레놀정500밀리그람(아세트아미노펜)",
	Manufacturer: "한국존슨앤드존슨",
	Category:     drug.CategoryGeneral,
	Efficacy:     "이 약은 감기로 인한 발열 및 동통, 두통, 신경통, 근육통에 사용합니다.",
	Usage:        "만 12세 이상 소아 및 성인은 1회 1~2정씩 1일 3-4회 필요시 복용합니다.",
	Warnings:     "매일 세잔 이상 정기적으로 술을 마시는 사람은 의사 또는 약사와 상의하십시오.",
	SideEffects:  "쇽 증상, 발진, 구역, 구토가 나타나는 경우 복용을 즉각 중지하십시오.",
}
