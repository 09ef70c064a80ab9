package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*domain.JobRun) ([]*domain.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error)
	// ClaimNextRunnable picks the oldest runnable row and marks it running.
	// Runnable means queued, failed with attempts under budget past the retry
	// delay, or running with a stale heartbeat (worker died mid-flight).
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*domain.JobRun) ([]*domain.JobRun, error) {
	if len(jobs) == 0 {
		return []*domain.JobRun{}, nil
	}
	for _, job := range jobs {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		if job.Status == "" {
			job.Status = domain.JobStatusQueued
		}
	}
	if err := r.conn(dbc).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job domain.JobRun
	err := r.conn(dbc).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.JobRun, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.JobRun
	err := r.conn(dbc).Transaction(func(txx *gorm.DB) error {
		var job domain.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, domain.JobStatusQueued, domain.JobStatusFailed, maxAttempts, retryCutoff, domain.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).
		Model(&domain.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := r.conn(dbc).
		Model(&domain.JobRun{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.conn(dbc).
		Model(&domain.JobRun{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) HasRunnableForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (bool, error) {
	if entityID == uuid.Nil || entityType == "" || jobType == "" {
		return false, nil
	}
	var count int64
	err := r.conn(dbc).
		Model(&domain.JobRun{}).
		Where("entity_type = ? AND entity_id = ? AND job_type = ? AND status IN ?",
			entityType, entityID, jobType, []string{domain.JobStatusQueued, domain.JobStatusRunning},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
