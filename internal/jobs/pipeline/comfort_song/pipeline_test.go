package comfort_song

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

type fakeComposer struct {
	enabled  bool
	clip     []byte
	err      error
	requests int
}

func (f *fakeComposer) Compose(ctx context.Context, prompt string, d time.Duration) ([]byte, error) {
	if !f.enabled {
		return nil, elevenlabs.ErrDisabled
	}
	f.requests++
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
	uploads   []uploadRecord
	uploadErr error
}

func (f *fakeBuckets) UploadFile(dbc dbctx.Context, category gcs.BucketCategory, key, contentType string, file io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
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

func testPipeline(t *testing.T, eggs *fakeEggRepo, composer *fakeComposer) (*Pipeline, *fakeBuckets, *fakeBus) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	buckets := &fakeBuckets{}
	bus := &fakeBus{}
	return New(nil, log, eggs, composer, buckets, bus), buckets, bus
}

func jobContext(t *testing.T, eggID, clutchID uuid.UUID) *jobrt.Context {
	t.Helper()
	job := &domain.JobRun{
		ID:      uuid.New(),
		JobType: domain.JobTypeComfortSong,
		Status:  domain.JobStatusRunning,
		Payload: datatypes.JSON([]byte(`{"egg_id":"` + eggID.String() + `","clutch_id":"` + clutchID.String() + `"}`)),
	}
	return jobrt.NewContext(context.Background(), nil, job, &fakeJobRunRepo{})
}

func countCompleted(events []stream.EggEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == stream.KindEggCompleted {
			n++
		}
	}
	return n
}

func TestSkipsViableEggButCompletes(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 60}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	composer := &fakeComposer{enabled: true, clip: []byte("mp3")}
	p, buckets, bus := testPipeline(t, eggs, composer)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if composer.requests != 0 {
		t.Fatal("viable egg must not reach the composer")
	}
	if len(buckets.uploads) != 0 {
		t.Fatal("viable egg must not produce uploads")
	}
	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestDisabledComposerSkipsSilentlyButCompletes(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 20}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	p, buckets, bus := testPipeline(t, eggs, &fakeComposer{enabled: false})

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(buckets.uploads) != 0 {
		t.Fatal("disabled composer must not produce uploads")
	}
	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status=%q want succeeded", jc.Job.Status)
	}
}

func TestComposeFailureStillCompletes(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 20}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	composer := &fakeComposer{enabled: true, err: context.DeadlineExceeded}
	p, _, bus := testPipeline(t, eggs, composer)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
	if jc.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("composition failure must not fail the job, status=%q", jc.Job.Status)
	}
}

func TestComposesAndStoresSong(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 20, Color: "brown"}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	composer := &fakeComposer{enabled: true, clip: []byte("mp3-bytes")}
	p, buckets, bus := testPipeline(t, eggs, composer)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(buckets.uploads) != 1 {
		t.Fatalf("uploads=%d want 1", len(buckets.uploads))
	}
	up := buckets.uploads[0]
	if up.contentType != "audio/mpeg" || !strings.HasPrefix(up.key, clutchID.String()+"/songs/") {
		t.Fatalf("unexpected upload %+v", up)
	}
	if len(eggs.updates) != 1 {
		t.Fatalf("egg updates=%d want 1", len(eggs.updates))
	}
	if _, ok := eggs.updates[0]["comfort_song_key"]; !ok {
		t.Fatalf("update missing comfort_song_key: %v", eggs.updates[0])
	}
	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
}

func TestUploadFailureFailsJobButCompletes(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 20}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	composer := &fakeComposer{enabled: true, clip: []byte("mp3")}
	p, buckets, bus := testPipeline(t, eggs, composer)
	buckets.uploadErr = context.DeadlineExceeded

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(eggs.updates) != 0 {
		t.Fatalf("failed upload must not patch the egg, got %v", eggs.updates)
	}
	if jc.Job.Status != domain.JobStatusFailed {
		t.Fatalf("job status=%q want failed for redelivery", jc.Job.Status)
	}
	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
}

func TestSkipsWhenSongAlreadyPresent(t *testing.T) {
	clutchID := uuid.New()
	egg := &domain.Egg{ID: uuid.New(), ClutchID: clutchID, HatchLikelihood: 20, ComfortSongKey: "songs/x.mp3"}
	eggs := &fakeEggRepo{eggs: map[uuid.UUID]*domain.Egg{egg.ID: egg}}
	composer := &fakeComposer{enabled: true, clip: []byte("mp3")}
	p, _, bus := testPipeline(t, eggs, composer)

	jc := jobContext(t, egg.ID, clutchID)
	if err := p.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if composer.requests != 0 {
		t.Fatal("existing song must not be regenerated")
	}
	if countCompleted(bus.events) != 1 {
		t.Fatalf("completed events=%d want 1", countCompleted(bus.events))
	}
}
