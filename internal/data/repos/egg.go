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

type EggRepo interface {
	CreateBatch(dbc dbctx.Context, eggs []*domain.Egg) ([]*domain.Egg, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Egg, error)
	ListByClutch(dbc dbctx.Context, clutchID uuid.UUID) ([]*domain.Egg, error)
	// UpdateFields patches an arbitrary set of columns. hatch_likelihood is
	// immutable after creation and is rejected here.
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error
}

var ErrImmutableField = errors.New("attempted update of immutable field")

type eggRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEggRepo(db *gorm.DB, baseLog *logger.Logger) EggRepo {
	return &eggRepo{db: db, log: baseLog.With("repo", "EggRepo")}
}

func (r *eggRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *eggRepo) CreateBatch(dbc dbctx.Context, eggs []*domain.Egg) ([]*domain.Egg, error) {
	if len(eggs) == 0 {
		return []*domain.Egg{}, nil
	}
	for _, egg := range eggs {
		if egg.ClutchID == uuid.Nil {
			return nil, errors.New("egg missing clutch id")
		}
		if egg.ID == uuid.Nil {
			egg.ID = uuid.New()
		}
	}
	if err := r.conn(dbc).Create(&eggs).Error; err != nil {
		return nil, err
	}
	return eggs, nil
}

func (r *eggRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Egg, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var egg domain.Egg
	err := r.conn(dbc).Where("id = ?", id).First(&egg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &egg, nil
}

func (r *eggRepo) ListByClutch(dbc dbctx.Context, clutchID uuid.UUID) ([]*domain.Egg, error) {
	if clutchID == uuid.Nil {
		return []*domain.Egg{}, nil
	}
	var out []*domain.Egg
	if err := r.conn(dbc).
		Where("clutch_id = ?", clutchID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eggRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["hatch_likelihood"]; ok {
		return ErrImmutableField
	}
	updates["updated_at"] = time.Now()
	return r.conn(dbc).
		Model(&domain.Egg{}).
		Where("id = ?", id).
		Updates(updates).Error
}
