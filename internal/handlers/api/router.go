// Package api exposes comparisons, timelines and catalog search over HTTP
package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/batikanor/geoproof/internal/config"
	"github.com/batikanor/geoproof/internal/metrics"
)

// Options configures the router
type Options struct {
	CORSOrigins  []string
	SessionLimit int
	SessionTTL   time.Duration
	Sources      []config.Source
	Tasks        TaskQueue     // optional
	Tiles        TileFetcher   // optional, enables the tile proxy
	Versions     VersionLookup // optional
	Logger       *slog.Logger
}

// SetupRouter creates and configures the Gin router
func SetupRouter(svc Comparer, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), metrics.Middleware())

	corsConfig := cors.DefaultConfig()
	if len(opts.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = opts.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, SessionHeader)
	router.Use(cors.New(corsConfig))

	handler := NewHandler(svc, opts)

	v1 := router.Group("/v1")
	v1.POST("/compare", handler.Compare)
	v1.DELETE("/compare", handler.CancelCompare)
	v1.GET("/timeline", handler.Timeline)
	v1.GET("/candidates", handler.Candidates)
	v1.GET("/sources", handler.Sources)

	if opts.Tasks != nil {
		tasks := v1.Group("/tasks")
		tasks.POST("", handler.CreateTask)
		tasks.GET("", handler.ListTasks)
		tasks.GET("/:id", handler.GetTask)
		tasks.POST("/:id/cancel", handler.CancelTask)
		tasks.DELETE("/:id", handler.DeleteTask)
	}

	if opts.Tiles != nil {
		router.GET("/tiles/:source/:z/:x/:y", handler.Tile)
	}

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", metrics.Handler())

	return router
}

// requestLogger logs each request once it completes
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request failed", attrs...)
			return
		}
		logger.Debug("request", attrs...)
	}
}
