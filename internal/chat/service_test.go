package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/prescription-ai-platform/internal/agent"
	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
)

type serviceFixture struct {
	service *Service
	records *memRecords
	blobs   *fakeBlobs
	vision  *stubVision
	history *memHistory
	drugs   *stubDrugs
	core    *agent.Core
}

// newServiceFixture wires the service to a real agent core over in-memory
// stores.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		records: newMemRecords(),
		blobs:   newFakeBlobs(),
		vision:  &stubVision{text: "阿莫西林胶囊 0.5g，每日三次，饭后服用。"},
		history: &memHistory{},
		drugs: &stubDrugs{catalog: map[string]*drug.Info{
			"타이레놀": {Name: "타이레놀정500밀리그람", Manufacturer: "한국존슨앤드존슨", Category: drug.CategoryGeneral, Efficacy: "해열 및 진통"},
		}},
	}
	f.core = agent.New(agent.Config{
		Records:  f.records,
		Analyzer: f.vision,
		Drugs:    noDrugs{},
		History:  f.history,
	})
	f.service = NewService(Config{
		Records:        f.records,
		Blobs:          f.blobs,
		Agent:          f.core,
		Analyzer:       f.core.Pipeline(),
		History:        f.history,
		Drugs:          f.drugs,
		MaxUploadBytes: 1024,
		PresignTTL:     15 * time.Minute,
	})
	return f
}

func newAgentOnlyService(t *testing.T, runner TurnRunner) (*Service, *memRecords, *fakeBlobs) {
	t.Helper()
	records := newMemRecords()
	blobs := newFakeBlobs()
	svc := NewService(Config{
		Records:        records,
		Blobs:          blobs,
		Agent:          runner,
		History:        &memHistory{},
		MaxUploadBytes: 1024,
	})
	return svc, records, blobs
}

func TestHandleUploadAndChat_ImageOnlyUsesDefaultQuestion(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.HandleUploadAndChat(context.Background(), UploadRequest{
		UserID: "user-1",
		Image:  &Image{Filename: "rx.png", ContentType: "image/png", Data: pngBytes},
	})
	require.NoError(t, err)
	require.NotNil(t, result.PrescriptionID)
	assert.Equal(t, agent.DefaultQuestion, result.UserMessage)
	assert.Equal(t, "阿莫西林胶囊 0.5g，每日三次，饭后服用。", result.AIResponse)

	rec, err := f.records.Get(context.Background(), *result.PrescriptionID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusCompleted, rec.Status)
	assert.Equal(t, "prescriptions/user-1/rx.png", rec.FileKey)
	assert.Equal(t, 1, f.vision.calls)

	turns, err := f.history.Recent(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.SenderUser, turns[0].Sender)
	assert.Equal(t, agent.DefaultQuestion, turns[0].Text)
	assert.Equal(t, conversation.SenderAssistant, turns[1].Sender)
	assert.Equal(t, result.AIResponse, turns[1].Text)
}

func TestHandleUploadAndChat_RequiresTextOrImage(t *testing.T) {
	runner := &recordingAgent{answer: "unused"}
	svc, _, _ := newAgentOnlyService(t, runner)

	_, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{UserID: "u", Text: "   "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.HandleUploadAndChat(context.Background(), UploadRequest{Text: "hi"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, runner.requests)
}

func TestHandleUploadAndChat_RejectsBadImages(t *testing.T) {
	cases := map[string]*Image{
		"not an image": {Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")},
		"sniffed text": {Filename: "rx", Data: []byte("just some text")},
		"too large":    {Filename: "big.png", ContentType: "image/png", Data: make([]byte, 2048)},
		"empty":        {Filename: "empty.png", ContentType: "image/png"},
	}
	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			runner := &recordingAgent{answer: "unused"}
			svc, records, blobs := newAgentOnlyService(t, runner)

			_, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{UserID: "u", Image: img})
			require.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, blobs.count())
			assert.Empty(t, records.byID)
			assert.Empty(t, runner.requests)
		})
	}
}

func TestHandleUploadAndChat_SniffsMissingContentType(t *testing.T) {
	runner := &recordingAgent{answer: "ok"}
	svc, records, _ := newAgentOnlyService(t, runner)

	result, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{
		UserID: "u",
		Image:  &Image{Filename: "scan", ContentType: "application/octet-stream", Data: pngBytes},
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", records.byID[*result.PrescriptionID].ContentType)
}

func TestHandleUploadAndChat_RecordFailureIsFatal(t *testing.T) {
	runner := &recordingAgent{answer: "unused"}
	svc, records, blobs := newAgentOnlyService(t, runner)
	records.createErr = errDatabaseDown

	_, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{
		UserID: "u",
		Text:   "what is this?",
		Image:  &Image{Filename: "rx.png", ContentType: "image/png", Data: pngBytes},
	})
	require.ErrorIs(t, err, errDatabaseDown)
	assert.Empty(t, runner.requests)
	assert.Zero(t, blobs.count(), "orphaned blob is removed")
	assert.Equal(t, []string{"prescriptions/u/rx.png"}, blobs.deleted)
}

func TestHandleUploadAndChat_ImageWithQuestionCallsAgentOnce(t *testing.T) {
	runner := &recordingAgent{answer: "하루 세 번 드세요."}
	svc, _, _ := newAgentOnlyService(t, runner)

	result, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{
		UserID: "u",
		Text:   "  어떻게 먹어요?  ",
		Image:  &Image{Filename: "rx.png", ContentType: "image/png", Data: pngBytes},
	})
	require.NoError(t, err)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "어떻게 먹어요?", runner.requests[0].Text)
	require.NotNil(t, runner.requests[0].PrescriptionID)
	assert.Equal(t, *result.PrescriptionID, *runner.requests[0].PrescriptionID)
	assert.Equal(t, "하루 세 번 드세요.", result.AIResponse)
}

func TestHandleUploadAndChat_TextForwardsReference(t *testing.T) {
	runner := &recordingAgent{answer: "answer"}
	svc, _, blobs := newAgentOnlyService(t, runner)
	id := int64(12)

	result, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{UserID: "u", Text: "다시 알려줘", PrescriptionID: &id})
	require.NoError(t, err)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, &id, runner.requests[0].PrescriptionID)
	assert.Equal(t, &id, result.PrescriptionID)
	assert.Zero(t, blobs.count())
}

func TestHandleUploadAndChat_MissingReferenceIsNotFound(t *testing.T) {
	f := newServiceFixture(t)
	id := int64(7)

	_, err := f.service.HandleUploadAndChat(context.Background(), UploadRequest{UserID: "u", Text: "이거 뭐예요?", PrescriptionID: &id})
	require.ErrorIs(t, err, prescription.ErrNotFound)
	assert.Zero(t, f.vision.calls)
}

func TestAnalyzeByID_FailureReturnsFailedRecord(t *testing.T) {
	f := newServiceFixture(t)
	rec := &prescription.Record{UserID: "u", FileKey: "k"}
	require.NoError(t, f.records.Create(context.Background(), rec))
	f.vision.err = &vision.UpstreamError{StatusCode: 502, Reason: "bad gateway"}

	got, err := f.service.AnalyzeByID(context.Background(), "u", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	f.vision.err = nil
	got, err = f.service.AnalyzeByID(context.Background(), "u", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusCompleted, got.Status)
	assert.Equal(t, 2, f.vision.calls)

	got, err = f.service.AnalyzeByID(context.Background(), "u", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, prescription.StatusCompleted, got.Status)
	assert.Equal(t, 2, f.vision.calls, "completed analysis is not recomputed")
}

func TestAnalyzeByID_ForeignRecord(t *testing.T) {
	f := newServiceFixture(t)
	rec := &prescription.Record{UserID: "owner", FileKey: "k"}
	require.NoError(t, f.records.Create(context.Background(), rec))

	_, err := f.service.AnalyzeByID(context.Background(), "intruder", rec.ID)
	require.ErrorIs(t, err, prescription.ErrNotFound)
	assert.Zero(t, f.vision.calls)
}

func TestDelete_RemovesBlobAndRecord(t *testing.T) {
	runner := &recordingAgent{answer: "ok"}
	svc, records, blobs := newAgentOnlyService(t, runner)

	result, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{
		UserID: "u",
		Image:  &Image{Filename: "rx.png", ContentType: "image/png", Data: pngBytes},
	})
	require.NoError(t, err)
	id := *result.PrescriptionID

	require.ErrorIs(t, svc.Delete(context.Background(), "someone-else", id), prescription.ErrNotFound)
	require.NoError(t, svc.Delete(context.Background(), "u", id))
	assert.Zero(t, blobs.count())
	assert.Empty(t, records.byID)
	require.ErrorIs(t, svc.Delete(context.Background(), "u", id), prescription.ErrNotFound)
}

func TestDelete_MissingBlobStillDeletesRecord(t *testing.T) {
	svc, records, _ := newAgentOnlyService(t, &recordingAgent{})
	rec := &prescription.Record{UserID: "u", FileKey: "gone"}
	require.NoError(t, records.Create(context.Background(), rec))

	require.NoError(t, svc.Delete(context.Background(), "u", rec.ID))
	assert.Empty(t, records.byID)
}

func TestListPresignAndHistory(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	empty, err := f.service.ListByUser(ctx, "u")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i := 0; i < 2; i++ {
		_, err := f.service.HandleUploadAndChat(ctx, UploadRequest{
			UserID: "u",
			Image:  &Image{Filename: "rx.png", ContentType: "image/png", Data: pngBytes},
		})
		require.NoError(t, err)
	}
	recs, err := f.service.ListByUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.EqualValues(t, 2, recs[0].ID)

	url, err := f.service.PresignedURL(ctx, "u", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/prescriptions/u/rx.png?ttl=15m0s", url)
	_, err = f.service.PresignedURL(ctx, "other", 1)
	require.ErrorIs(t, err, prescription.ErrNotFound)

	turns, err := f.service.History(ctx, "u", 3)
	require.NoError(t, err)
	assert.Len(t, turns, 3)

	require.NoError(t, f.service.ClearHistory(ctx, "u"))
	turns, err = f.service.History(ctx, "u", 0)
	require.NoError(t, err)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
}

func TestHandleUploadAndChat_AgentErrorPropagates(t *testing.T) {
	svc, _, _ := newAgentOnlyService(t, &recordingAgent{err: errors.New("boom")})
	_, err := svc.HandleUploadAndChat(context.Background(), UploadRequest{UserID: "u", Text: "hi"})
	require.EqualError(t, err, "boom")
}

func TestPrescriptionMessages_ScopedToRecordAndOwner(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.HandleUploadAndChat(ctx, UploadRequest{
		UserID: "u",
		Image:  &Image{Filename: "a.png", ContentType: "image/png", Data: pngBytes},
	})
	require.NoError(t, err)
	_, err = f.service.HandleUploadAndChat(ctx, UploadRequest{
		UserID: "u",
		Image:  &Image{Filename: "b.png", ContentType: "image/png", Data: pngBytes},
	})
	require.NoError(t, err)
	_, err = f.service.HandleUploadAndChat(ctx, UploadRequest{UserID: "u", Text: "복용 시간은?", PrescriptionID: first.PrescriptionID})
	require.NoError(t, err)

	turns, err := f.service.PrescriptionMessages(ctx, "u", *first.PrescriptionID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, agent.DefaultQuestion, turns[0].Text)
	assert.Equal(t, "복용 시간은?", turns[2].Text)
	for _, turn := range turns {
		require.NotNil(t, turn.PrescriptionID)
		assert.Equal(t, *first.PrescriptionID, *turn.PrescriptionID)
	}

	_, err = f.service.PrescriptionMessages(ctx, "intruder", *first.PrescriptionID)
	require.ErrorIs(t, err, prescription.ErrNotFound)
	_, err = f.service.PrescriptionMessages(ctx, "u", 99)
	require.ErrorIs(t, err, prescription.ErrNotFound)
}

func TestLookupDrug(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result, err := f.service.LookupDrug(ctx, "  타이레놀 ")
	require.NoError(t, err)
	assert.Equal(t, "타이레놀정500밀리그람", result.Info.Name)
	assert.Contains(t, result.Summary, "약물명: 타이레놀정500밀리그람")

	_, err = f.service.LookupDrug(ctx, "없는약")
	require.ErrorIs(t, err, drug.ErrNotFound)

	_, err = f.service.LookupDrug(ctx, " ")
	require.ErrorIs(t, err, ErrValidation)

	f.drugs.err = drug.ErrTimeout
	_, err = f.service.LookupDrug(ctx, "타이레놀")
	require.ErrorIs(t, err, drug.ErrTimeout)
}

func TestLookupDrug_NotConfigured(t *testing.T) {
	svc, _, _ := newAgentOnlyService(t, &recordingAgent{})
	_, err := svc.LookupDrug(context.Background(), "타이레놀")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}
