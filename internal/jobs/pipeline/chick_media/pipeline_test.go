package chick_media

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
	"github.com/yungbote/hatchery-backend/internal/platform/elevenlabs"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type fakeEggRepo struct {
	eggs    map[uuid.UUID]*domain.Egg
	updates []map[string]any
}

func (f *fakeEggRepo) CreateBatch(dbc dbctx.Context, eggs []*domain.Egg) ([]*domain.Egg, error) {
	return eggs, nil
}
func (f *fakeEggRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Egg, error) {
	return f.eggs[id], nil
}
func (f *fakeEggRepo) ListByClutch(dbc dbctx.Context, clutchID uuid.UUID) ([]*domain.Egg, error) {
	return nil, nil
}
func (f *fakeEggRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	f.updates = append(f.updates, updates)
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
	imageErr   error
	imageCalls int
	lastPrompt string
}

func (f *fakeAI) GenerateImage(ctx context.Context, prompt string) (openai.ImageGeneration, error) {
	f.imageCalls++
	f.lastPrompt = prompt
	if f.imageErr != nil {
		return openai.ImageGeneration{}, f.imageErr
	}
	return openai.ImageGeneration{Bytes: []byte("png-bytes"), MimeType: "image/png"}, nil
}

func (f *fakeAI) RunToolConversation(ctx context.Context, conv openai.ToolConversation) (openai.ToolResult, error) {
	return openai.ToolResult{}, nil
}

type fakeComposer struct {
	enabled bool
	clip    []byte
	err     error
}

func (f *fakeComposer) Compose(ctx context.Context, prompt string, d time.Duration) ([]byte, error) {
	if !f.enabled {
		return nil, elevenlabs.ErrDisabled
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.clip, nil
}
func (f *fakeComposer) Enabled() bool { return f.enabled }

type uploadRecord struct {
	key         string
	contentType string
}

type fakeBuckets struct {
	uploads []uploadRecord
}

func (f *fakeBuckets) UploadFile(dbc dbctx.Context, category gcs.BucketCategory, key, contentType string, file io.Reader) error {
	f.uploads = append(f.uploads, uploadRecord{key: key, contentType: contentType})
	return nil
}
func (f *fakeBuckets) DownloadFile(ctx context.Context, category gcs.BucketCategory, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
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

type fakeBus struct {
	events []stream.EggEvent
}

func (f *fakeBus) Publish(ctx context.Context, ev stream.EggEvent) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeBus) StartForwarder(ctx context.Context, onEvent func(stream.EggEvent)) error {
	return nil
}
func (f *fakeBus) Close() error { return nil }

func jobContext(t *testing.T, eggID, clutchID uuid.UUID) *jobrt.Context {
	t.Helper()
	job := &domain.JobRun{
		ID:      uuid.New(),
		JobType: domain.JobTypeChickMedia,
		Status:  domain.JobStatusRunning,
		Payload: datatypes.JSON([]byte(`{"egg_id":"` + eggID.String() + `","clutch_id":"` + clutchID.String() + `"}`)),
	}
	return jobrt.NewContext(context.Background(), nil, job, &fakeJobRunRepo{})
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSkipsBelowThreshold(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 69}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	ai := &fakeAI{}
	p := New(nil, testLogger(t), eggs, ai, &fakeComposer{enabled: true, clip: []byte("mp3")}, &fakeBuckets{}, &fakeBus{})

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ai.imageCalls != 0 {
		t.Fatal("sub-threshold egg must not reach the model")
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestSkipsWhenBothArtifactsPresent(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{
		ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 90,
		ChickImageKey: "chicks/a.png", ChickAudioKey: "chicks/a.mp3",
	}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	ai := &fakeAI{}
	p := New(nil, testLogger(t), eggs, ai, &fakeComposer{enabled: true, clip: []byte("mp3")}, &fakeBuckets{}, &fakeBus{})

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ai.imageCalls != 0 {
		t.Fatal("fully enriched egg must not regenerate media")
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestGeneratesImageAndAudio(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{
		ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 88,
		PredictedChickBreed: "Rhode Island Red",
		ChickAppearance:     datatypes.JSON([]byte(`{"plumage_color":"reddish brown","comb_type":"single"}`)),
	}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	ai := &fakeAI{}
	buckets := &fakeBuckets{}
	bus := &fakeBus{}
	p := New(nil, testLogger(t), eggs, ai, &fakeComposer{enabled: true, clip: []byte("mp3")}, buckets, bus)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(buckets.uploads) != 2 {
		t.Fatalf("uploads=%d want 2", len(buckets.uploads))
	}
	if !strings.Contains(ai.lastPrompt, "Rhode Island Red") || !strings.Contains(ai.lastPrompt, "reddish brown") {
		t.Fatalf("image prompt missing predicted traits: %q", ai.lastPrompt)
	}
	if len(bus.events) != 1 {
		t.Fatalf("events=%d want exactly one combined modify event", len(bus.events))
	}
	ev := bus.events[0]
	if ev.Kind != stream.KindEggModify || !ev.TouchesMedia() {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.ChangedFields) != 2 {
		t.Fatalf("changed fields=%v want image and audio", ev.ChangedFields)
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestDisabledComposerOmitsAudio(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 88}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	buckets := &fakeBuckets{}
	bus := &fakeBus{}
	p := New(nil, testLogger(t), eggs, &fakeAI{}, &fakeComposer{enabled: false}, buckets, bus)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(buckets.uploads) != 1 || buckets.uploads[0].contentType != "image/png" {
		t.Fatalf("expected only the image upload, got %+v", buckets.uploads)
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("disabled composer must not fail the job, status=%q", jc.Job.Status)
	}
}

func TestImageFailureStillWritesAudioThenFails(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 88}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	ai := &fakeAI{imageErr: context.DeadlineExceeded}
	buckets := &fakeBuckets{}
	bus := &fakeBus{}
	p := New(nil, testLogger(t), eggs, ai, &fakeComposer{enabled: true, clip: []byte("mp3")}, buckets, bus)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(buckets.uploads) != 1 || buckets.uploads[0].contentType != "audio/mpeg" {
		t.Fatalf("expected the audio upload to land, got %+v", buckets.uploads)
	}
	if len(bus.events) != 1 || !bus.events[0].TouchesMedia() {
		t.Fatalf("expected one media modify event, got %+v", bus.events)
	}
	if jc.Job.Status != domain.JobStatusFailed {
		t.Fatalf("incomplete media must requeue, status=%q", jc.Job.Status)
	}
}

func TestTotalFailureFailsJobWithoutEvent(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 88}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	ai := &fakeAI{imageErr: context.DeadlineExceeded}
	bus := &fakeBus{}
	p := New(nil, testLogger(t), eggs, ai, &fakeComposer{enabled: true, err: context.DeadlineExceeded}, &fakeBuckets{}, bus)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(bus.events) != 0 {
		t.Fatalf("no media means no modify event, got %+v", bus.events)
	}
	if jc.Job.Status != domain.JobStatusFailed {
		t.Fatalf("job status=%q want failed", jc.Job.Status)
	}
}
