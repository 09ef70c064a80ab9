package clutch_consolidate

import (
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/ledger"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/platform/openai"
)

type Pipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	clutches repos.ClutchRepo
	eggs     repos.EggRepo
	ai       openai.Client
	buckets  gcs.BucketService
	ledger   ledger.Client
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	clutches repos.ClutchRepo,
	eggs repos.EggRepo,
	ai openai.Client,
	buckets gcs.BucketService,
	ledgerClient ledger.Client,
) *Pipeline {
	return &Pipeline{
		db:       db,
		log:      baseLog.With("job", "clutch_consolidate"),
		clutches: clutches,
		eggs:     eggs,
		ai:       ai,
		buckets:  buckets,
		ledger:   ledgerClient,
	}
}

func (p *Pipeline) Type() string { return domain.JobTypeClutchConsolidate }
