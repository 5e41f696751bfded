// Package app wires the geoproof services together from configuration
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/batikanor/geoproof/internal/analytics"
	"github.com/batikanor/geoproof/internal/animation"
	"github.com/batikanor/geoproof/internal/cache"
	"github.com/batikanor/geoproof/internal/catalog"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/config"
	"github.com/batikanor/geoproof/internal/esri"
	"github.com/batikanor/geoproof/internal/events"
	"github.com/batikanor/geoproof/internal/export"
	"github.com/batikanor/geoproof/internal/handlers/api"
	"github.com/batikanor/geoproof/internal/imagery"
	"github.com/batikanor/geoproof/internal/ratelimit"
	"github.com/batikanor/geoproof/internal/taskqueue"
	"github.com/batikanor/geoproof/internal/tileclient"
	"github.com/batikanor/geoproof/internal/wayback"
)

// Version is set at build time
var Version = "0.0.0-dev"

// App owns the long-lived clients and the comparison service
type App struct {
	cfg       *config.Config
	service   *compare.Service
	writer    *export.Writer
	tiles     *tileclient.Client
	versions  *esri.Client
	tileCache *cache.TileCache
	limiter   *ratelimit.Handler
	tracker   *analytics.Tracker
	events    *events.Publisher
	valkey    valkey.Client
	logger    *slog.Logger
}

// New builds the application. Optional backends (tile cache, Valkey, NATS,
// analytics) that fail to initialise are logged and left out.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format, err := common.ParseOutputFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}

	if cfg.Cache.Enabled {
		tc, err := cache.NewTileCache(cfg.Cache.Dir, cfg.Cache.Config, logger)
		if err != nil {
			logger.Warn("tile cache disabled", "error", err)
		} else {
			a.tileCache = tc
			entries, size, _ := tc.Stats()
			logger.Info("tile cache ready", "dir", tc.Dir(), "entries", entries, "bytes", size)
		}
	}

	a.limiter = ratelimit.NewHandler(nil, logger)
	a.limiter.SetOnRateLimit(func(ev ratelimit.Event) {
		logger.Warn("provider rate limited", "provider", common.DisplayName(ev.Provider),
			"status", ev.StatusCode, "retry_at", ev.NextRetryAt)
		a.tracker.Track("rate_limited", map[string]any{"provider": ev.Provider, "attempt": ev.RetryAttempt})
	})
	a.limiter.SetOnRecovered(func(provider string) {
		logger.Info("provider recovered", "provider", common.DisplayName(provider))
	})

	a.tracker = analytics.New(cfg.Analytics, logger)

	a.tiles = a.tileClient(common.ProviderXYZ)
	loader := imagery.NewLoader(a.tiles, cfg.Mosaic, logger)

	a.versions = esri.NewClient(cfg.Wayback.CapabilitiesURL, nil, cfg.Wayback.Refresh, logger)
	dedup := wayback.NewDeduplicator(a.tileClient(common.ProviderEsriWayback), a.timelineStore(), cfg.Probe, logger)

	deps := compare.Deps{
		Loader:    loader,
		Versions:  a.versions,
		Timelines: dedup,
		Tracker:   a.tracker,
		Logger:    logger,
	}
	if cfg.Catalog.STACURL != "" {
		deps.Catalog = catalog.NewSTACClient(cfg.Catalog.STACURL, nil, logger)
	}
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("comparison events disabled", "error", err)
		} else {
			a.events = pub
			deps.Publisher = pub
		}
	}
	a.service = compare.NewService(cfg.Compare, deps)

	exportOpts := export.Options{Dir: cfg.Output.Dir, Format: format}
	if cfg.Output.Animation != "" {
		exportOpts.Animation = true
		exportOpts.AnimOpts = animation.DefaultOptions()
		exportOpts.AnimOpts.Format = cfg.Output.Animation
	}
	a.writer = export.NewWriter(exportOpts, logger)

	a.tracker.Track("app_started", map[string]any{"version": Version})
	return a, nil
}

func (a *App) tileClient(provider string) *tileclient.Client {
	return tileclient.New(tileclient.Options{
		Provider:  provider,
		RateLimit: a.limiter,
		Cache:     a.tileCache,
		Logger:    a.logger,
	})
}

// timelineStore uses Valkey when configured so timelines are shared across
// instances, and an in-process LRU otherwise
func (a *App) timelineStore() wayback.TimelineStore {
	if a.cfg.Valkey.Addr != "" {
		client, err := cache.NewValkeyClient(a.cfg.Valkey.Addr, a.cfg.Valkey.Password)
		if err == nil {
			a.valkey = client
			return cache.NewValkeyStore[wayback.Timeline](client, "geoproof:timeline:", a.cfg.Probe.CacheTTL, a.logger)
		}
		a.logger.Warn("valkey unavailable, using in-memory timeline cache", "addr", a.cfg.Valkey.Addr, "error", err)
	}
	return cache.NewTTLCache[wayback.Timeline](a.cfg.Probe.CacheSize, a.cfg.Probe.CacheTTL)
}

// Service returns the comparison service
func (a *App) Service() *compare.Service {
	return a.service
}

// Compare runs one comparison and writes its artifacts to the output directory
func (a *App) Compare(ctx context.Context, req compare.Request) (compare.Result, []string, error) {
	res, err := a.service.Compare(ctx, req)
	if err != nil {
		return res, nil, err
	}
	paths, err := a.writer.WriteComparison(res)
	if err != nil {
		return res, paths, fmt.Errorf("export: %w", err)
	}
	return res, paths, nil
}

// ExecuteTask runs a queued comparison
func (a *App) ExecuteTask(ctx context.Context, task taskqueue.CompareTask) (taskqueue.TaskResult, error) {
	res, paths, err := a.Compare(ctx, task.Request)
	if err != nil {
		return taskqueue.TaskResult{}, err
	}
	return taskqueue.TaskResult{
		ComparisonID:   res.ID,
		ChangedPercent: res.Stats.ChangedPercent,
		ChangedAreaKm2: res.ChangedAreaKm2,
		Files:          paths,
	}, nil
}

func (a *App) openQueue() (*taskqueue.QueueManager, error) {
	qm, err := taskqueue.NewQueueManager(a.cfg.Queue.Dir, taskqueue.ExecutorFunc(a.ExecuteTask), a.logger)
	if err != nil {
		return nil, err
	}
	qm.SetOnTaskComplete(func(task taskqueue.CompareTask) {
		a.tracker.Track("task_finished", map[string]any{"status": string(task.Status)})
	})
	qm.Start()
	return qm, nil
}

// Serve runs the HTTP API and the task queue until ctx is cancelled, then
// drains in-flight requests
func (a *App) Serve(ctx context.Context) error {
	opts := api.Options{
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		SessionLimit: a.cfg.Server.SessionLimit,
		SessionTTL:   a.cfg.Server.SessionTTL,
		Sources:      a.cfg.Sources,
		Tiles:        a.tiles,
		Versions:     a.versions,
		Logger:       a.logger,
	}
	if a.cfg.Queue.Enabled {
		qm, err := a.openQueue()
		if err != nil {
			return err
		}
		defer qm.Close()
		opts.Tasks = qm
	}
	router := api.SetupRouter(a.service, opts)
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

// Shutdown releases the clients
func (a *App) Shutdown() {
	if a.events != nil {
		a.events.Close()
	}
	if a.valkey != nil {
		a.valkey.Close()
	}
	if err := a.tracker.Close(); err != nil {
		a.logger.Warn("analytics close failed", "error", err)
	}
}
