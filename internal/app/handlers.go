package app

import (
	apphttp "github.com/yungbote/hatchery-backend/internal/http"
	httpH "github.com/yungbote/hatchery-backend/internal/http/handlers"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type Handlers struct {
	Clutch *httpH.ClutchHandler
	Job    *httpH.JobHandler
	Health *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Clutch: httpH.NewClutchHandler(serviceset.Clutch, serviceset.ClutchRead),
		Job:    httpH.NewJobHandler(serviceset.Jobs),
		Health: httpH.NewHealthHandler(),
	}
}

func wireServer(log *logger.Logger, handlerset Handlers) *apphttp.Server {
	log.Info("Wiring http server...")
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:           log,
		ClutchHandler: handlerset.Clutch,
		JobHandler:    handlerset.Job,
		HealthHandler: handlerset.Health,
	})
}
