package comfort_song

import (
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/elevenlabs"
	"github.com/yungbote/hatchery-backend/internal/platform/gcs"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type Pipeline struct {
	db      *gorm.DB
	log     *logger.Logger
	eggs    repos.EggRepo
	audio   elevenlabs.Client
	buckets gcs.BucketService
	bus     stream.Bus
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	eggs repos.EggRepo,
	audio elevenlabs.Client,
	buckets gcs.BucketService,
	bus stream.Bus,
) *Pipeline {
	return &Pipeline{
		db:      db,
		log:     baseLog.With("job", "comfort_song"),
		eggs:    eggs,
		audio:   audio,
		buckets: buckets,
		bus:     bus,
	}
}

func (p *Pipeline) Type() string { return domain.JobTypeComfortSong }
