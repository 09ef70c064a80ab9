package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/data/repos"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type Repos struct {
	Clutch repos.ClutchRepo
	Egg    repos.EggRepo
	JobRun repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Clutch: repos.NewClutchRepo(db, log),
		Egg:    repos.NewEggRepo(db, log),
		JobRun: repos.NewJobRunRepo(db, log),
	}
}
