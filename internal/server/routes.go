package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/kbsync/internal/server/handlers/events"
	"github.com/openmined/kbsync/internal/server/handlers/trigger"
	"github.com/openmined/kbsync/internal/server/middlewares"
	"github.com/openmined/kbsync/internal/version"
)

// SetupRoutes builds the trigger api. Sync runs are bound to base.
func SetupRoutes(base context.Context, config *Config, svc *Services) (http.Handler, error) {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(middlewares.SecureHeaders())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/v1")
	if svc.Sync != nil {
		rateLimit := config.SyncRateLimit
		if rateLimit == "" {
			rateLimit = DefaultSyncRateLimit
		}
		limiter, err := middlewares.RateLimiter(rateLimit)
		if err != nil {
			return nil, err
		}
		triggerH := trigger.New(base, svc.Sync)
		v1.POST("/sync", limiter, triggerH.Sync)
	}
	if svc.Events != nil {
		eventsH := events.New(svc.Events)
		v1.POST("/events", eventsH.Notify)
		v1.GET("/jobs/:id", eventsH.Job)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	// return a plaintext
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
