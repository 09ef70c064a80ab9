package vision_analyze

import (
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/ledger"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type Pipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	clutches repos.ClutchRepo
	eggs     repos.EggRepo
	ai       openai.Client
	buckets  gcs.BucketService
	bus      stream.Bus
	ledger   ledger.Client
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	clutches repos.ClutchRepo,
	eggs repos.EggRepo,
	ai openai.Client,
	buckets gcs.BucketService,
	bus stream.Bus,
	ledgerClient ledger.Client,
) *Pipeline {
	return &Pipeline{
		db:       db,
		log:      baseLog.With("job", "vision_analyze"),
		clutches: clutches,
		eggs:     eggs,
		ai:       ai,
		buckets:  buckets,
		bus:      bus,
		ledger:   ledgerClient,
	}
}

func (p *Pipeline) Type() string { return domain.JobTypeVisionAnalyze }
