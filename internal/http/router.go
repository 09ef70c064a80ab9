package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/hatchery-backend/internal/http/handlers"
	httpMW "github.com/yungbote/hatchery-backend/internal/http/middleware"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	ClutchHandler *httpH.ClutchHandler
	JobHandler    *httpH.JobHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("hatchery-backend"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.ClutchHandler != nil {
			api.POST("/clutches", cfg.ClutchHandler.InitiateUpload)
			api.POST("/storage-events", cfg.ClutchHandler.StorageEvent)
			api.GET("/clutches", cfg.ClutchHandler.ListClutches)
			api.GET("/clutches/:id", cfg.ClutchHandler.GetClutch)
		}

		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
		}
	}

	return r
}
