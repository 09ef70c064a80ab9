package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type ClutchRepo interface {
	Create(dbc dbctx.Context, clutch *domain.Clutch) (*domain.Clutch, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clutch, error)
	List(dbc dbctx.Context, limit int) ([]*domain.Clutch, error)
	// UpdateFields patches an arbitrary set of columns. Callers build a
	// field->value map containing only what changed.
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error
	// SetStatus applies a status transition, refusing illegal (backward)
	// moves. Returns the updated record, or nil when the transition was
	// rejected because the current status is already past it.
	SetStatus(dbc dbctx.Context, id uuid.UUID, next domain.ClutchStatus) (*domain.Clutch, error)
}

type clutchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClutchRepo(db *gorm.DB, baseLog *logger.Logger) ClutchRepo {
	return &clutchRepo{db: db, log: baseLog.With("repo", "ClutchRepo")}
}

func (r *clutchRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *clutchRepo) Create(dbc dbctx.Context, clutch *domain.Clutch) (*domain.Clutch, error) {
	if clutch == nil {
		return nil, errors.New("nil clutch")
	}
	if clutch.ID == uuid.Nil {
		clutch.ID = uuid.New()
	}
	if clutch.Status == "" {
		clutch.Status = domain.StatusUploaded
	}
	if err := r.conn(dbc).Create(clutch).Error; err != nil {
		return nil, err
	}
	return clutch, nil
}

func (r *clutchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clutch, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var clutch domain.Clutch
	err := r.conn(dbc).Where("id = ?", id).First(&clutch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &clutch, nil
}

func (r *clutchRepo) List(dbc dbctx.Context, limit int) ([]*domain.Clutch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.Clutch
	if err := r.conn(dbc).
		Order("upload_timestamp DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *clutchRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.conn(dbc).
		Model(&domain.Clutch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *clutchRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, next domain.ClutchStatus) (*domain.Clutch, error) {
	clutch, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if clutch == nil {
		return nil, gorm.ErrRecordNotFound
	}
	if clutch.Status == next {
		return clutch, nil
	}
	if !clutch.Status.CanTransition(next) {
		r.log.Warn("Rejected backward status transition",
			"clutch_id", id.String(),
			"from", string(clutch.Status),
			"to", string(next),
		)
		return nil, nil
	}
	if err := r.UpdateFields(dbc, id, map[string]any{"status": next}); err != nil {
		return nil, err
	}
	clutch.Status = next
	return clutch, nil
}
