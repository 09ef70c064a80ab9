package vision_analyze

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/hatchery-backend/internal/domain"
	jobrt "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/ledger"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type fakeClutchRepo struct {
	clutches map[uuid.UUID]*domain.Clutch
	statuses []domain.ClutchStatus
}

func (f *fakeClutchRepo) Create(dbc dbctx.Context, c *domain.Clutch) (*domain.Clutch, error) {
	f.clutches[c.ID] = c
	return c, nil
}
func (f *fakeClutchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clutch, error) {
	return f.clutches[id], nil
}
func (f *fakeClutchRepo) List(dbc dbctx.Context, limit int) ([]*domain.Clutch, error) {
	return nil, nil
}
func (f *fakeClutchRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if c := f.clutches[id]; c != nil {
		if s, ok := updates["status"].(domain.ClutchStatus); ok {
			c.Status = s
			f.statuses = append(f.statuses, s)
		}
		if msg, ok := updates["error_message"].(string); ok {
			c.ErrorMessage = msg
		}
	}
	return nil
}
func (f *fakeClutchRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, next domain.ClutchStatus) (*domain.Clutch, error) {
	c := f.clutches[id]
	if c == nil {
		return nil, nil
	}
	if c.Status == next {
		return c, nil
	}
	if !c.Status.CanTransition(next) {
		return nil, nil
	}
	c.Status = next
	f.statuses = append(f.statuses, next)
	return c, nil
}

type fakeEggRepo struct {
	created   []*domain.Egg
	updates   map[uuid.UUID][]map[string]any
	updateErr error
}

func (f *fakeEggRepo) CreateBatch(dbc dbctx.Context, eggs []*domain.Egg) ([]*domain.Egg, error) {
	f.created = append(f.created, eggs...)
	return eggs, nil
}
func (f *fakeEggRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Egg, error) {
	return nil, nil
}
func (f *fakeEggRepo) ListByClutch(dbc dbctx.Context, clutchID uuid.UUID) ([]*domain.Egg, error) {
	return f.created, nil
}
func (f *fakeEggRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updates == nil {
		f.updates = map[uuid.UUID][]map[string]any{}
	}
	f.updates[id] = append(f.updates[id], updates)
	return nil
}

type fakeJobRunRepo struct{}

func (f *fakeJobRunRepo) Create(dbc dbctx.Context, jobs []*domain.JobRun) ([]*domain.JobRun, error) {
	return jobs, nil
}
func (f *fakeJobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	return nil, nil
}
func (f *fakeJobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.JobRun, error) {
	return nil, nil
}
func (f *fakeJobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}
func (f *fakeJobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	return true, nil
}
func (f *fakeJobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }
func (f *fakeJobRunRepo) HasRunnableForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (bool, error) {
	return false, nil
}

type fakeAI struct {
	observations string
	toolCalls    int
	err          error
}

func (f *fakeAI) GenerateImage(ctx context.Context, prompt string) (openai.ImageGeneration, error) {
	return openai.ImageGeneration{Bytes: []byte("png")}, nil
}

func (f *fakeAI) RunToolConversation(ctx context.Context, conv openai.ToolConversation) (openai.ToolResult, error) {
	f.toolCalls++
	if f.err != nil {
		return openai.ToolResult{}, f.err
	}
	call := openai.ToolCall{CallID: "call_1", Name: conv.Tools[0].Name, Arguments: []byte(f.observations)}
	if _, err := conv.Dispatch(ctx, call); err != nil {
		return openai.ToolResult{}, err
	}
	return openai.ToolResult{Calls: []openai.ToolCall{call}, Turns: 2}, nil
}

type fakeBuckets struct{ payload string }

func (f *fakeBuckets) UploadFile(dbc dbctx.Context, category gcs.BucketCategory, key, contentType string, file io.Reader) error {
	return nil
}
func (f *fakeBuckets) DownloadFile(ctx context.Context, category gcs.BucketCategory, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.payload)), nil
}
func (f *fakeBuckets) DeleteFile(dbc dbctx.Context, category gcs.BucketCategory, key string) error {
	return nil
}
func (f *fakeBuckets) ListKeys(ctx context.Context, category gcs.BucketCategory, prefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeBuckets) SignedUploadURL(category gcs.BucketCategory, key, contentType string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}
func (f *fakeBuckets) GetPublicURL(category gcs.BucketCategory, key string) string {
	return "https://cdn.example/" + key
}

type fakeBus struct{ events []stream.EggEvent }

func (f *fakeBus) Publish(ctx context.Context, ev stream.EggEvent) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeBus) StartForwarder(ctx context.Context, onEvent func(stream.EggEvent)) error {
	return nil
}
func (f *fakeBus) Close() error { return nil }

type fakeLedger struct{ records int }

func (f *fakeLedger) Record(ctx context.Context, subjectID, eventType string, eventData map[string]any) (ledger.Attestation, error) {
	f.records++
	return ledger.Attestation{
		TransactionID:   uuid.NewString(),
		TransactionHash: "0x" + strings.Repeat("ab", 32),
		BlockNumber:     18500123,
	}, nil
}
func (f *fakeLedger) Validate(ctx context.Context, txHash string) (bool, error) { return true, nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func jobContext(t *testing.T, clutchID uuid.UUID) *jobrt.Context {
	t.Helper()
	job := &domain.JobRun{
		ID:      uuid.New(),
		JobType: domain.JobTypeVisionAnalyze,
		Status:  domain.JobStatusRunning,
		Payload: datatypes.JSON([]byte(`{"clutch_id":"` + clutchID.String() + `"}`)),
	}
	return jobrt.NewContext(context.Background(), nil, job, &fakeJobRunRepo{})
}

func seedClutch(repo *fakeClutchRepo, imageKey string) *domain.Clutch {
	c := &domain.Clutch{ID: uuid.New(), ImageKey: imageKey, Status: domain.StatusUploaded}
	repo.clutches[c.ID] = c
	return c
}

func TestRejectsUnsupportedExtension(t *testing.T) {
	clutches := &fakeClutchRepo{clutches: map[uuid.UUID]*domain.Clutch{}}
	clutch := seedClutch(clutches, "clutches/a/photo.gif")
	ai := &fakeAI{}
	p := New(nil, testLogger(t), clutches, &fakeEggRepo{}, ai, &fakeBuckets{}, &fakeBus{}, &fakeLedger{})

	jc := jobContext(t, clutch.ID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ai.toolCalls != 0 {
		t.Fatal("unsupported extension must not reach the model")
	}
	if clutch.Status != domain.StatusError {
		t.Fatalf("clutch status=%q want Error", clutch.Status)
	}
	if clutch.ErrorMessage == "" {
		t.Fatal("expected error message on clutch")
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("skip must not burn a retry, job status=%q", jc.Job.Status)
	}
}

func TestAnalyzesAndPublishesEvents(t *testing.T) {
	clutches := &fakeClutchRepo{clutches: map[uuid.UUID]*domain.Clutch{}}
	clutch := seedClutch(clutches, "clutches/a/photo.jpg")
	eggs := &fakeEggRepo{}
	bus := &fakeBus{}
	ledgerClient := &fakeLedger{}
	ai := &fakeAI{observations: `{"eggs":[
		{"color":"brown","overallGrade":"A","hatchLikelihood":85},
		{"color":"white","overallGrade":"B","hatchLikelihood":55},
		{"color":"cream","overallGrade":"C","hatchLikelihood":20}
	]}`}
	p := New(nil, testLogger(t), clutches, eggs, ai, &fakeBuckets{payload: "jpegdata"}, bus, ledgerClient)

	jc := jobContext(t, clutch.ID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(eggs.created) != 3 {
		t.Fatalf("eggs created=%d want 3", len(eggs.created))
	}
	for _, egg := range eggs.created {
		if egg.ClutchID != clutch.ID {
			t.Fatalf("egg bound to wrong clutch: %+v", egg)
		}
	}

	wantStatuses := []domain.ClutchStatus{domain.StatusDetectingEggs, domain.StatusDeterminingEggs}
	if len(clutches.statuses) != 2 || clutches.statuses[0] != wantStatuses[0] || clutches.statuses[1] != wantStatuses[1] {
		t.Fatalf("status transitions=%v want %v", clutches.statuses, wantStatuses)
	}

	inserts, modifies := 0, 0
	for _, ev := range bus.events {
		switch ev.Kind {
		case stream.KindEggInsert:
			inserts++
			if ev.HatchLikelihood == nil {
				t.Fatal("insert event missing hatch likelihood")
			}
		case stream.KindEggModify:
			modifies++
		}
	}
	if inserts != 3 || modifies != 3 {
		t.Fatalf("events inserts=%d modifies=%d want 3/3", inserts, modifies)
	}

	if ledgerClient.records != 3 {
		t.Fatalf("attestations=%d want 3", ledgerClient.records)
	}
	for _, egg := range eggs.created {
		patches := eggs.updates[egg.ID]
		if len(patches) != 1 {
			t.Fatalf("egg %s patches=%d want 1", egg.ID, len(patches))
		}
		if _, ok := patches[0]["attestation_hash"]; !ok {
			t.Fatalf("egg patch missing attestation_hash: %v", patches[0])
		}
	}

	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestAttestationPatchFailureStillRoutes(t *testing.T) {
	clutches := &fakeClutchRepo{clutches: map[uuid.UUID]*domain.Clutch{}}
	clutch := seedClutch(clutches, "clutches/a/photo.jpg")
	eggs := &fakeEggRepo{updateErr: context.DeadlineExceeded}
	bus := &fakeBus{}
	ai := &fakeAI{observations: `{"eggs":[
		{"color":"brown","overallGrade":"A","hatchLikelihood":85},
		{"color":"cream","overallGrade":"C","hatchLikelihood":20}
	]}`}
	p := New(nil, testLogger(t), clutches, eggs, ai, &fakeBuckets{payload: "jpegdata"}, bus, &fakeLedger{})

	jc := jobContext(t, clutch.ID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	modifies := 0
	for _, ev := range bus.events {
		if ev.Kind != stream.KindEggModify {
			continue
		}
		modifies++
		if ev.HatchLikelihood == nil {
			t.Fatal("modify event missing hatch likelihood")
		}
		if len(ev.ChangedFields) != 0 {
			t.Fatalf("unpatched egg must not claim changed fields: %v", ev.ChangedFields)
		}
	}
	if modifies != 2 {
		t.Fatalf("modify events=%d want 2", modifies)
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestModelFailureErrorsClutch(t *testing.T) {
	clutches := &fakeClutchRepo{clutches: map[uuid.UUID]*domain.Clutch{}}
	clutch := seedClutch(clutches, "clutches/a/photo.png")
	ai := &fakeAI{err: context.DeadlineExceeded}
	p := New(nil, testLogger(t), clutches, &fakeEggRepo{}, ai, &fakeBuckets{payload: "png"}, &fakeBus{}, &fakeLedger{})

	jc := jobContext(t, clutch.ID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if clutch.Status != domain.StatusError {
		t.Fatalf("clutch status=%q want Error", clutch.Status)
	}
	if jc.Job.Status != domain.JobStatusFailed {
		t.Fatalf("job status=%q want failed", jc.Job.Status)
	}
}

func TestZeroEggsErrorsClutch(t *testing.T) {
	clutches := &fakeClutchRepo{clutches: map[uuid.UUID]*domain.Clutch{}}
	clutch := seedClutch(clutches, "clutches/a/photo.jpeg")
	ai := &fakeAI{observations: `{"eggs":[]}`}
	p := New(nil, testLogger(t), clutches, &fakeEggRepo{}, ai, &fakeBuckets{payload: "jpg"}, &fakeBus{}, &fakeLedger{})

	jc := jobContext(t, clutch.ID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if clutch.Status != domain.StatusError {
		t.Fatalf("clutch status=%q want Error", clutch.Status)
	}
	if jc.Job.Status != domain.JobStatusFailed {
		t.Fatalf("job status=%q want failed", jc.Job.Status)
	}
}
