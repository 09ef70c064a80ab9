package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/jobs/pipeline/chick_media"
	"github.com/yungbote/hatchery-backend/internal/jobs/pipeline/clutch_consolidate"
	"github.com/yungbote/hatchery-backend/internal/jobs/pipeline/comfort_song"
	"github.com/yungbote/hatchery-backend/internal/jobs/pipeline/vision_analyze"
	jobruntime "github.com/yungbote/hatchery-backend/internal/jobs/runtime"
	"github.com/yungbote/hatchery-backend/internal/jobs/worker"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
	"github.com/yungbote/hatchery-backend/internal/services"
	"github.com/yungbote/hatchery-backend/internal/stream"
)

type Services struct {
	Jobs       services.JobService
	Clutch     services.ClutchService
	ClutchRead services.ClutchReadService

	JobRegistry *jobruntime.Registry
	JobWorker   *worker.Worker
	EggRouter   *stream.Router
}

func wireServices(db *gorm.DB, log *logger.Logger, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	jobs := services.NewJobService(db, log, reposet.JobRun)
	clutch := services.NewClutchService(db, log, reposet.Clutch, clients.Buckets, jobs)
	reads := services.NewClutchReadService(db, log, reposet.Clutch, reposet.Egg, clients.Buckets, clients.Ledger)

	registry := jobruntime.NewRegistry()
	pipelines := []jobruntime.Handler{
		vision_analyze.New(db, log, reposet.Clutch, reposet.Egg, clients.AI, clients.Buckets, clients.Bus, clients.Ledger),
		chick_media.New(db, log, reposet.Egg, clients.AI, clients.Audio, clients.Buckets, clients.Bus),
		comfort_song.New(db, log, reposet.Egg, clients.Audio, clients.Buckets, clients.Bus),
		clutch_consolidate.New(db, log, reposet.Clutch, reposet.Egg, clients.AI, clients.Buckets, clients.Ledger),
	}
	for _, p := range pipelines {
		if err := registry.Register(p); err != nil {
			return Services{}, fmt.Errorf("register pipeline %s: %w", p.Type(), err)
		}
	}

	return Services{
		Jobs:        jobs,
		Clutch:      clutch,
		ClutchRead:  reads,
		JobRegistry: registry,
		JobWorker:   worker.NewWorker(db, log, reposet.JobRun, registry),
		EggRouter:   stream.NewRouter(log, reposet.Egg, jobs),
	}, nil
}
