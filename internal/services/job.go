package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type JobService interface {
	// Enqueue creates one queued job_run row. When a runnable job of the
	// same type already exists for the entity the call is a no-op and
	// returns (nil, nil); workers claiming by record state make duplicate
	// submissions harmless either way.
	Enqueue(ctx context.Context, jobType string, entityType string, entityID uuid.UUID, payload map[string]any) (*domain.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error)
}

type jobService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.JobRunRepo
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo) JobService {
	return &jobService{
		db:   db,
		log:  baseLog.With("service", "JobService"),
		repo: repo,
	}
}

func (s *jobService) Enqueue(ctx context.Context, jobType string, entityType string, entityID uuid.UUID, payload map[string]any) (*domain.JobRun, error) {
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if entityID == uuid.Nil {
		return nil, fmt.Errorf("missing entity_id")
	}
	dbc := dbctx.Context{Ctx: ctx}

	has, err := s.repo.HasRunnableForEntity(dbc, entityType, entityID, jobType)
	if err != nil {
		return nil, err
	}
	if has {
		s.log.Debug("Job already runnable for entity, skipping enqueue",
			"job_type", jobType, "entity_type", entityType, "entity_id", entityID.String())
		return nil, nil
	}

	payloadJSON := datatypes.JSON([]byte(`{}`))
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = datatypes.JSON(b)
	}

	now := time.Now()
	eid := entityID
	job := &domain.JobRun{
		ID:         uuid.New(),
		JobType:    jobType,
		EntityType: entityType,
		EntityID:   &eid,
		Status:     domain.JobStatusQueued,
		Stage:      "queued",
		Progress:   0,
		Message:    "Queued",
		Payload:    payloadJSON,
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbc, []*domain.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("Job enqueued", "job_id", job.ID.String(), "job_type", jobType, "entity_id", entityID.String())
	return job, nil
}

func (s *jobService) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	return s.repo.GetByID(dbc, id)
}
