package wayback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/metrics"
	"github.com/batikanor/geoproof/internal/scheduler"
)

// Fetcher loads raw tile bytes for a URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config holds the probing limits
type Config struct {
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	TimeBudget   time.Duration `mapstructure:"time_budget"`
	ProbeBudget  int           `mapstructure:"probe_budget"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheSize    int           `mapstructure:"cache_size"`
}

// DefaultConfig returns the standard probing limits
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		MaxRetries:   2,
		RetryBackoff: 200 * time.Millisecond,
		TimeBudget:   30 * time.Second,
		ProbeBudget:  180,
		CacheTTL:     5 * time.Minute,
		CacheSize:    256,
	}
}

// Deduplicator builds timelines and owns the timeline cache
type Deduplicator struct {
	fetcher Fetcher
	store   TimelineStore
	cfg     Config
	pool    *scheduler.Pool
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewDeduplicator creates a deduplicator. store may be nil to disable caching.
func NewDeduplicator(fetcher Fetcher, store TimelineStore, cfg Config, logger *slog.Logger) *Deduplicator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = def.TimeBudget
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = def.ProbeBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		pool:    scheduler.NewPool(cfg.BatchSize),
		now:     time.Now,
		sleep:   sleepCtx,
		logger:  logger.With("component", "timeline"),
	}
}

// probeResult is the outcome of probing one version
type probeResult struct {
	hash uint64
	ok   bool
}

// BuildTimeline probes req.Probe for each version, newest first, in batches
// of Config.BatchSize. Batches run one after another; probes inside a batch
// run concurrently. Versions whose tile bytes hash like an already seen
// newer version are dropped.
func (d *Deduplicator) BuildTimeline(ctx context.Context, req TimelineRequest) (Timeline, error) {
	key := CacheKey(req)
	if d.store != nil {
		if tl, ok := d.store.Get(ctx, key); ok {
			metrics.CacheHits.WithLabelValues("timeline").Inc()
			return tl, nil
		}
		metrics.CacheMisses.WithLabelValues("timeline").Inc()
	}

	start := d.now()
	var probes atomic.Int32
	seen := make(map[uint64]int) // hash -> id of the newest version with it
	var kept []Version
	tl := Timeline{StopReason: StopExhausted}

	for offset := 0; offset < len(req.Versions); offset += d.cfg.BatchSize {
		if req.Limit > 0 && len(kept) >= req.Limit {
			tl.StopReason = StopLimit
			break
		}
		if int(probes.Load()) >= d.cfg.ProbeBudget {
			tl.StopReason = StopProbeBudget
			break
		}
		if d.now().Sub(start) >= d.cfg.TimeBudget {
			tl.StopReason = StopTimeBudget
			break
		}

		batch := req.Versions[offset:min(offset+d.cfg.BatchSize, len(req.Versions))]
		results := make([]probeResult, len(batch))

		d.pool.All(ctx, len(batch), func(ctx context.Context, i int) error {
			hash, ok := d.probe(ctx, batch[i], req.Probe, &probes)
			results[i] = probeResult{hash: hash, ok: ok}
			return nil
		})
		if err := ctx.Err(); err != nil {
			return Timeline{}, err
		}

		for i, r := range results {
			v := batch[i]
			if !r.ok {
				tl.Failed++
				continue
			}
			if firstID, dup := seen[r.hash]; dup {
				tl.Duplicates++
				d.logger.Debug("duplicate snapshot", "id", v.ID, "same_as", firstID)
				continue
			}
			if req.Limit > 0 && len(kept) >= req.Limit {
				continue
			}
			seen[r.hash] = v.ID
			kept = append(kept, v)
		}
	}
	if tl.StopReason == StopExhausted && req.Limit > 0 && len(kept) >= req.Limit && len(kept) < len(req.Versions) {
		tl.StopReason = StopLimit
	}

	tl.Probed = int(probes.Load())
	if len(kept) == 0 {
		return Timeline{}, fmt.Errorf("%w: no snapshot returned a tile at %s (%d probes, %d failed)",
			common.ErrNoCoverage, req.Probe, tl.Probed, tl.Failed)
	}

	SortVersions(kept)
	tl.Versions = kept
	tl.SuggestedBeforeID = kept[0].ID
	tl.SuggestedAfterID = kept[len(kept)-1].ID

	d.logger.Info("timeline built",
		"tile", req.Probe.String(),
		"versions", len(req.Versions),
		"unique", len(kept),
		"duplicates", tl.Duplicates,
		"failed", tl.Failed,
		"probes", tl.Probed,
		"stop", tl.StopReason,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if d.store != nil {
		d.store.Put(ctx, key, tl)
	}
	return tl, nil
}

// probe fetches the probe tile for one version with retries. Every HTTP
// attempt reserves one unit of the probe budget first.
func (d *Deduplicator) probe(ctx context.Context, v Version, tile geo.TileIndex, probes *atomic.Int32) (uint64, bool) {
	url := geo.FillTemplate(v.TileURLTemplate, tile)
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, time.Duration(attempt)*d.cfg.RetryBackoff); err != nil {
				return 0, false
			}
		}
		if !reserve(probes, d.cfg.ProbeBudget) {
			return 0, false
		}

		data, err := d.fetcher.Fetch(ctx, url)
		if err == nil {
			metrics.Probes.WithLabelValues("ok").Inc()
			return xxhash.Sum64(data), true
		}
		if ctx.Err() != nil {
			return 0, false
		}
		metrics.Probes.WithLabelValues("error").Inc()
		d.logger.Debug("probe failed", "id", v.ID, "attempt", attempt+1, "error", err)
	}
	return 0, false
}

// reserve takes one probe from the budget, failing once it is spent
func reserve(probes *atomic.Int32, budget int) bool {
	for {
		n := probes.Load()
		if int(n) >= budget {
			return false
		}
		if probes.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
