package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"

	"github.com/muandane/special-stack/thumbwall/internal/config"
	"github.com/muandane/special-stack/thumbwall/internal/handlers"
	"github.com/muandane/special-stack/thumbwall/internal/middleware"
)

type Router struct {
	engine *gin.Engine
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())
	return &Router{
		engine: engine,
		logger: logger,
	}
}

// Options carries what Setup needs beyond the pipeline.
type Options struct {
	Schemes         []string
	AdminIPPrefixes []string
	Metrics         *metrics.Set
	Wait            time.Duration
}

func (r *Router) Setup(pipeline handlers.Pipeline, opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	metricsMiddleware := middleware.NewMetricsMiddleware(opts.Metrics)

	thumbnails := handlers.NewThumbnailHandler(pipeline, r.logger, opts.Wait)
	health := handlers.NewHealthHandler(pipeline, r.logger)
	stats := handlers.NewStatsHandler(pipeline, r.logger)
	admin := handlers.NewAdminHandler(pipeline, r.logger)

	r.engine.GET("/thumbnails", thumbnails.Get)
	r.engine.GET("/health", health.Get)
	r.engine.GET("/stats", stats.Get)
	r.engine.GET("/metrics", gin.WrapH(metricsMiddleware))
	r.engine.POST("/admin/flush", admin.Flush)
	r.engine.POST("/admin/cancel", admin.Cancel)

	return middleware.Chain(
		r.engine,
		middleware.WithValidation(middleware.ValidationConfig{
			Paths:   []string{"/thumbnails"},
			Schemes: opts.Schemes,
		}),
		middleware.WithAdminAccessControl(middleware.AdminPolicy{
			PathPrefix: "/admin/",
			AllowedIPs: opts.AdminIPPrefixes,
		}, r.logger, len(opts.AdminIPPrefixes) > 0),
		metricsMiddleware.WithMetrics,
		middleware.WithLogging(r.logger, "/health", "/metrics"),
	)
}

// OptionsFromConfig maps the runtime configuration onto router options.
func OptionsFromConfig(cfg *config.Config, set *metrics.Set) Options {
	return Options{
		Schemes:         cfg.Download.Schemes,
		AdminIPPrefixes: cfg.Access.AdminIPPrefixes,
		Metrics:         set,
		Wait:            cfg.RequestWait,
	}
}
