// Package compare runs before/after comparisons over an area: it loads two
// mosaics, aligns them, computes the change heatmap and reports the result.
package compare

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/batikanor/geoproof/internal/catalog"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/diff"
	"github.com/batikanor/geoproof/internal/events"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/imagery"
	"github.com/batikanor/geoproof/internal/metrics"
	"github.com/batikanor/geoproof/internal/scheduler"
	"github.com/batikanor/geoproof/internal/wayback"
)

// MosaicLoader assembles imagery for one side of a comparison
type MosaicLoader interface {
	LoadMosaic(ctx context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error)
	CropPreview(ctx context.Context, req imagery.PreviewRequest) (imagery.MosaicResult, error)
}

// VersionSource lists historical basemap releases, newest first
type VersionSource interface {
	Versions(ctx context.Context) ([]wayback.Version, error)
}

// TimelineBuilder deduplicates releases at a probe tile
type TimelineBuilder interface {
	BuildTimeline(ctx context.Context, req wayback.TimelineRequest) (wayback.Timeline, error)
}

// Tracker records product analytics
type Tracker interface {
	Track(event string, props map[string]any)
}

// Publisher announces finished comparisons
type Publisher interface {
	PublishComparison(ctx context.Context, c events.Comparison) error
}

// Config holds comparison defaults
type Config struct {
	PairConcurrency int     `mapstructure:"pair_concurrency"`
	DefaultZoom     float64 `mapstructure:"default_zoom"`
	Threshold       uint8   `mapstructure:"threshold"`
	IgnoreClouds    bool    `mapstructure:"ignore_clouds"`
	IgnoreDark      bool    `mapstructure:"ignore_dark"`
	MaxOffsetDays   float64 `mapstructure:"max_offset_days"`
	SearchDays      float64 `mapstructure:"search_days"`
	TimelineLimit   int     `mapstructure:"timeline_limit"`
	TimelineZoom    int     `mapstructure:"timeline_zoom"`
}

// DefaultConfig returns the standard comparison settings
func DefaultConfig() Config {
	return Config{
		PairConcurrency: 2,
		DefaultZoom:     17,
		Threshold:       35,
		IgnoreClouds:    true,
		IgnoreDark:      true,
		MaxOffsetDays:   45,
		SearchDays:      90,
		TimelineLimit:   24,
		TimelineZoom:    16,
	}
}

// Deps are the collaborators of a Service. Catalog, Versions, Timelines,
// Tracker and Publisher are optional; operations needing a missing one fail
// with ErrInvalidRequest.
type Deps struct {
	Loader    MosaicLoader
	Catalog   catalog.Catalog
	Versions  VersionSource
	Timelines TimelineBuilder
	Tracker   Tracker
	Publisher Publisher
	Logger    *slog.Logger
}

// Service runs comparisons, timelines and candidate searches
type Service struct {
	cfg       Config
	loader    MosaicLoader
	catalog   catalog.Catalog
	versions  VersionSource
	timelines TimelineBuilder
	tracker   Tracker
	publisher Publisher
	pair      *scheduler.Pool
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a service
func NewService(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.PairConcurrency <= 0 {
		cfg.PairConcurrency = def.PairConcurrency
	}
	if cfg.DefaultZoom <= 0 {
		cfg.DefaultZoom = def.DefaultZoom
	}
	if cfg.SearchDays <= 0 {
		cfg.SearchDays = def.SearchDays
	}
	if cfg.TimelineZoom <= 0 {
		cfg.TimelineZoom = def.TimelineZoom
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		loader:    deps.Loader,
		catalog:   deps.Catalog,
		versions:  deps.Versions,
		timelines: deps.Timelines,
		tracker:   deps.Tracker,
		publisher: deps.Publisher,
		pair:      scheduler.NewPool(cfg.PairConcurrency),
		now:       time.Now,
		logger:    logger.With("component", "compare"),
	}
}

// Side describes where one image of the pair comes from. Template wins
// over VersionID; PreviewURL is used directly when neither is set and as
// the fallback when a mosaic fails.
type Side struct {
	Label       string    `json:"label,omitempty"`
	Template    string    `json:"template,omitempty"`
	VersionID   int       `json:"versionId,omitempty"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	PreviewBBox *geo.BBox `json:"previewBbox,omitempty"`
}

func (s Side) hasMosaic() bool { return s.Template != "" }

// Request is one comparison
type Request struct {
	BBox              geo.BBox      `json:"bbox"`
	Zoom              float64       `json:"zoom,omitempty"`
	Before            Side          `json:"before"`
	After             Side          `json:"after"`
	Diff              *diff.Options `json:"diff,omitempty"`
	AllowMissingTiles bool          `json:"allowMissingTiles,omitempty"`
}

// SideResult summarizes how one image was produced
type SideResult struct {
	Label        string `json:"label,omitempty"`
	Source       string `json:"source"`
	UsedZoom     int    `json:"usedZoom"`
	Attempts     int    `json:"attempts"`
	MissingTiles int    `json:"missingTiles"`
	TotalTiles   int    `json:"totalTiles"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Result is a finished comparison
type Result struct {
	ID             string     `json:"id"`
	BBox           geo.BBox   `json:"bbox"`
	Before         SideResult `json:"before"`
	After          SideResult `json:"after"`
	Stats          diff.Stats `json:"stats"`
	ChangedAreaKm2 float64    `json:"changedAreaKm2"`
	HeatmapPNG     []byte     `json:"heatmapPng"`
	CreatedAt      time.Time  `json:"createdAt"`

	BeforeImage *image.NRGBA `json:"-"`
	AfterImage  *image.NRGBA `json:"-"`
	Heatmap     *image.NRGBA `json:"-"`
}

// Compare loads both sides concurrently, aligns them and diffs them
func (s *Service) Compare(ctx context.Context, req Request) (Result, error) {
	res, err := s.compare(ctx, req)
	switch {
	case err == nil:
		metrics.Comparisons.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, common.ErrStale):
		metrics.Comparisons.WithLabelValues("canceled").Inc()
	default:
		metrics.Comparisons.WithLabelValues("error").Inc()
		s.logger.Warn("comparison failed", "bbox", req.BBox.String(), "error", err)
	}
	return res, err
}

func (s *Service) compare(ctx context.Context, req Request) (Result, error) {
	if err := req.BBox.Validate(); err != nil {
		return Result{}, err
	}
	if s.loader == nil {
		return Result{}, fmt.Errorf("%w: no imagery loader configured", common.ErrInvalidRequest)
	}

	before, err := s.resolveSide(ctx, req.Before)
	if err != nil {
		return Result{}, fmt.Errorf("before: %w", err)
	}
	after, err := s.resolveSide(ctx, req.After)
	if err != nil {
		return Result{}, fmt.Errorf("after: %w", err)
	}
	req.Before, req.After = before, after
	if req.Zoom <= 0 {
		req.Zoom = s.cfg.DefaultZoom
	}

	start := s.now()
	mosaics, err := s.loadPair(ctx, req, false)
	if err != nil && ctx.Err() == nil && !errors.Is(err, common.ErrRenderTarget) &&
		req.Before.PreviewURL != "" && req.After.PreviewURL != "" {
		s.logger.Info("mosaic failed, falling back to previews", "error", err)
		mosaics, err = s.loadPair(ctx, req, true)
	}
	if err != nil {
		return Result{}, err
	}

	b, a := align(mosaics[0].Image, mosaics[1].Image)
	heat, stats, err := diff.Compute(b, a, s.diffOptions(req.Diff))
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, heat); err != nil {
		return Result{}, fmt.Errorf("%w: encode heatmap: %v", common.ErrRenderTarget, err)
	}

	res := Result{
		ID:             uuid.NewString(),
		BBox:           req.BBox,
		Before:         sideResult(req.Before, mosaics[0]),
		After:          sideResult(req.After, mosaics[1]),
		Stats:          stats,
		ChangedAreaKm2: req.BBox.AreaKm2() * stats.ChangedPercent / 100,
		HeatmapPNG:     buf.Bytes(),
		CreatedAt:      s.now().UTC(),
		BeforeImage:    b,
		AfterImage:     a,
		Heatmap:        heat,
	}

	s.logger.Info("comparison complete",
		"id", res.ID,
		"bbox", req.BBox.String(),
		"before_zoom", res.Before.UsedZoom,
		"after_zoom", res.After.UsedZoom,
		"changed_pct", stats.ChangedPercent,
		"changed_km2", res.ChangedAreaKm2,
		"elapsed", s.now().Sub(start).Round(time.Millisecond))

	s.announce(ctx, res)
	return res, nil
}

// resolveSide fills Template and Label from VersionID
func (s *Service) resolveSide(ctx context.Context, side Side) (Side, error) {
	if side.Template == "" && side.VersionID != 0 {
		if s.versions == nil {
			return side, fmt.Errorf("%w: version %d requested without a release catalog", common.ErrInvalidRequest, side.VersionID)
		}
		versions, err := s.versions.Versions(ctx)
		if err != nil {
			return side, err
		}
		found := false
		for _, v := range versions {
			if v.ID == side.VersionID {
				side.Template = v.TileURLTemplate
				if side.Label == "" {
					side.Label = common.FormatISO8601(v.Date)
				}
				found = true
				break
			}
		}
		if !found {
			return side, fmt.Errorf("%w: unknown version %d", common.ErrInvalidRequest, side.VersionID)
		}
	}
	if side.Template == "" && side.PreviewURL == "" {
		return side, fmt.Errorf("%w: no tile template, version or preview", common.ErrInvalidRequest)
	}
	return side, nil
}

// loadPair loads before and after concurrently. It returns the before
// side's error when both fail.
func (s *Service) loadPair(ctx context.Context, req Request, previews bool) ([2]imagery.MosaicResult, error) {
	var out [2]imagery.MosaicResult
	sides := [2]Side{req.Before, req.After}

	errs := s.pair.All(ctx, 2, func(ctx context.Context, i int) error {
		r, err := s.loadSide(ctx, req, sides[i], previews)
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err := ctx.Err(); err != nil {
		return out, err
	}
	for i, err := range errs {
		if err != nil {
			name := "before"
			if i == 1 {
				name = "after"
			}
			return out, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}

func (s *Service) loadSide(ctx context.Context, req Request, side Side, preview bool) (imagery.MosaicResult, error) {
	if preview || !side.hasMosaic() {
		footprint := req.BBox
		if side.PreviewBBox != nil {
			footprint = *side.PreviewBBox
		}
		return s.loader.CropPreview(ctx, imagery.PreviewRequest{
			URL:       side.PreviewURL,
			ImageBBox: footprint,
			Target:    req.BBox,
		})
	}
	return s.loader.LoadMosaic(ctx, imagery.MosaicRequest{
		Template:          side.Template,
		BBox:              req.BBox,
		Zoom:              req.Zoom,
		AllowMissingTiles: req.AllowMissingTiles,
	})
}

func (s *Service) diffOptions(o *diff.Options) diff.Options {
	if o != nil {
		return *o
	}
	return diff.Options{
		Threshold:    s.cfg.Threshold,
		IgnoreClouds: s.cfg.IgnoreClouds,
		IgnoreDark:   s.cfg.IgnoreDark,
	}
}

// announce reports a finished comparison to analytics and the event bus.
// Failures are logged only.
func (s *Service) announce(ctx context.Context, res Result) {
	if s.tracker != nil {
		s.tracker.Track("comparison_completed", map[string]any{
			"changed_percent": res.Stats.ChangedPercent,
			"before_zoom":     res.Before.UsedZoom,
			"after_zoom":      res.After.UsedZoom,
			"before_source":   res.Before.Source,
			"after_source":    res.After.Source,
		})
	}
	if s.publisher == nil {
		return
	}
	sum := sha256.Sum256(res.HeatmapPNG)
	evt := events.Comparison{
		ID:             res.ID,
		BBox:           res.BBox,
		BeforeLabel:    res.Before.Label,
		AfterLabel:     res.After.Label,
		BeforeZoom:     res.Before.UsedZoom,
		AfterZoom:      res.After.UsedZoom,
		Stats:          res.Stats,
		ChangedAreaKm2: res.ChangedAreaKm2,
		HeatmapSHA256:  hex.EncodeToString(sum[:]),
		CompletedAt:    res.CreatedAt,
	}
	if err := s.publisher.PublishComparison(ctx, evt); err != nil {
		s.logger.Warn("failed to publish comparison", "id", res.ID, "error", err)
	}
}

func sideResult(side Side, m imagery.MosaicResult) SideResult {
	r := SideResult{
		Label:        side.Label,
		Source:       m.Source,
		UsedZoom:     m.UsedZoom,
		Attempts:     m.Attempts,
		MissingTiles: m.MissingTiles,
		TotalTiles:   m.TotalTiles,
	}
	if m.Image != nil {
		r.Width = m.Image.Bounds().Dx()
		r.Height = m.Image.Bounds().Dy()
	}
	return r
}

// align scales both images to the smaller of their sizes so mosaics loaded
// at different zooms cover the same pixels
func align(before, after *image.NRGBA) (*image.NRGBA, *image.NRGBA) {
	bw, bh := before.Bounds().Dx(), before.Bounds().Dy()
	aw, ah := after.Bounds().Dx(), after.Bounds().Dy()
	if bw == aw && bh == ah {
		return before, after
	}
	w, h := min(bw, aw), min(bh, ah)
	if bw != w || bh != h {
		before = imagery.Resize(before, w, h)
	}
	if aw != w || ah != h {
		after = imagery.Resize(after, w, h)
	}
	return before, after
}
