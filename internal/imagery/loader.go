// Package imagery assembles XYZ tiles into a georeferenced mosaic cropped to
// a bounding box, degrading zoom when tiles cannot be loaded.
package imagery

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/metrics"
	"github.com/batikanor/geoproof/internal/scheduler"
)

// Result sources
const (
	SourceTiles   = "tiles"
	SourcePreview = "preview"
)

// TileFetcher loads raw tile bytes for a URL
type TileFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config holds the mosaic limits
type Config struct {
	MaxTileBudget    int     `mapstructure:"max_tile_budget"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	MaxOutputWidth   int     `mapstructure:"max_output_width"`
	MissingTileRatio float64 `mapstructure:"missing_tile_ratio"`
	TileConcurrency  int     `mapstructure:"tile_concurrency"`
	MaxCanvasPixels  int     `mapstructure:"max_canvas_pixels"`
	PreviewFormat    string  `mapstructure:"preview_format"`
	// TreatBlankAsMissing counts provider placeholder tiles as missing
	TreatBlankAsMissing bool `mapstructure:"treat_blank_as_missing"`
}

// DefaultConfig returns the standard mosaic limits
func DefaultConfig() Config {
	return Config{
		MaxTileBudget:    36,
		MaxAttempts:      6,
		MaxOutputWidth:   1024,
		MissingTileRatio: 0.7,
		TileConcurrency:  1,
		MaxCanvasPixels:  64 << 20,
		PreviewFormat:    FormatPNG,
	}
}

// MosaicRequest describes one mosaic to build
type MosaicRequest struct {
	Template          string
	BBox              geo.BBox
	Zoom              float64
	AllowMissingTiles bool
	MaxTileBudget     int // 0 uses the loader default
}

// MosaicResult is a mosaic cropped to the request bbox
type MosaicResult struct {
	Image         *image.NRGBA
	UsedZoom      int // -1 for preview crops
	Preview       []byte
	PreviewFormat string
	MissingTiles  int
	TotalTiles    int
	Attempts      int
	Source        string
	BBox          geo.BBox
}

// Loader builds mosaics
type Loader struct {
	fetcher TileFetcher
	cfg     Config
	pool    *scheduler.Pool
	logger  *slog.Logger
}

// NewLoader creates a loader; zero config fields take defaults
func NewLoader(fetcher TileFetcher, cfg Config, logger *slog.Logger) *Loader {
	def := DefaultConfig()
	if cfg.MaxTileBudget <= 0 {
		cfg.MaxTileBudget = def.MaxTileBudget
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxOutputWidth <= 0 {
		cfg.MaxOutputWidth = def.MaxOutputWidth
	}
	if cfg.MissingTileRatio <= 0 {
		cfg.MissingTileRatio = def.MissingTileRatio
	}
	if cfg.MaxCanvasPixels <= 0 {
		cfg.MaxCanvasPixels = def.MaxCanvasPixels
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher: fetcher,
		cfg:     cfg,
		pool:    scheduler.NewPool(cfg.TileConcurrency),
		logger:  logger.With("component", "mosaic"),
	}
}

// attemptState is the (attempt, zoom) position of the retry state machine
type attemptState struct {
	attempt int
	zoom    int
}

// next moves one zoom level coarser, or reports that no retry remains
func (s attemptState) next(maxAttempts int) (attemptState, bool) {
	if s.zoom <= geo.MinZoom || s.attempt >= maxAttempts {
		return s, false
	}
	return attemptState{attempt: s.attempt + 1, zoom: s.zoom - 1}, true
}

// LoadMosaic fetches, stitches and crops the tiles covering req.BBox. A
// failed attempt is retried one zoom level coarser until zoom 0 or the
// attempt limit, after which the last attempt's error is returned.
func (l *Loader) LoadMosaic(ctx context.Context, req MosaicRequest) (MosaicResult, error) {
	if err := req.BBox.Validate(); err != nil {
		return MosaicResult{}, err
	}
	if req.Template == "" {
		return MosaicResult{}, fmt.Errorf("%w: empty tile template", common.ErrTileFetch)
	}

	budget := req.MaxTileBudget
	if budget <= 0 {
		budget = l.cfg.MaxTileBudget
	}

	zoom, err := l.fitZoom(req.BBox, geo.ClampZoom(req.Zoom), budget)
	if err != nil {
		return MosaicResult{}, err
	}

	state := attemptState{attempt: 1, zoom: zoom}
	for {
		res, err := l.attempt(ctx, req, state.zoom, budget)
		if err == nil {
			res.Attempts = state.attempt
			metrics.MosaicResults.WithLabelValues("ok").Inc()
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.MosaicResults.WithLabelValues("canceled").Inc()
			return MosaicResult{}, ctxErr
		}
		if !common.IsRetryable(err) {
			metrics.MosaicResults.WithLabelValues("fatal").Inc()
			return MosaicResult{}, err
		}

		next, ok := state.next(l.cfg.MaxAttempts)
		if !ok {
			metrics.MosaicResults.WithLabelValues("exhausted").Inc()
			return MosaicResult{}, err
		}
		metrics.ZoomDowngrades.Inc()
		l.logger.Info("mosaic attempt failed, lowering zoom",
			"attempt", state.attempt,
			"zoom", state.zoom,
			"next_zoom", next.zoom,
			"error", err)
		state = next
	}
}

// fitZoom lowers zoom until the tile range fits the budget
func (l *Loader) fitZoom(bbox geo.BBox, zoom, budget int) (int, error) {
	for {
		rng, err := geo.BBoxToTileRange(bbox, zoom)
		if err != nil {
			return 0, err
		}
		if zoom <= geo.MinZoom || rng.Count() <= budget {
			return zoom, nil
		}
		zoom--
	}
}

// attempt builds the mosaic at exactly one zoom level
func (l *Loader) attempt(ctx context.Context, req MosaicRequest, zoom, budget int) (MosaicResult, error) {
	rng, err := geo.BBoxToTileRange(req.BBox, zoom)
	if err != nil {
		return MosaicResult{}, err
	}
	if rng.Count() > budget {
		return MosaicResult{}, fmt.Errorf("%w: %d tiles at z=%d exceeds budget %d", common.ErrRenderTarget, rng.Count(), zoom, budget)
	}

	width, height := rng.TilesX*geo.TileSize, rng.TilesY*geo.TileSize
	if width*height > l.cfg.MaxCanvasPixels {
		return MosaicResult{}, fmt.Errorf("%w: %dx%d canvas exceeds %d pixels", common.ErrRenderTarget, width, height, l.cfg.MaxCanvasPixels)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	tiles := rng.Tiles()
	var missing atomic.Int32

	err = l.pool.Each(ctx, len(tiles), func(ctx context.Context, i int) error {
		t := tiles[i]
		img, err := l.loadTile(ctx, req.Template, t)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !req.AllowMissingTiles {
				return fmt.Errorf("tile %s: %w", t, err)
			}
			missing.Add(1)
			l.logger.Debug("tile missing", "tile", t.String(), "error", err)
			return nil
		}

		// Tiles occupy disjoint regions of the canvas
		x := (t.X - rng.X0) * geo.TileSize
		y := (t.Y - rng.Y0) * geo.TileSize
		dst := image.Rect(x, y, x+geo.TileSize, y+geo.TileSize)
		xdraw.Draw(canvas, dst, img, img.Bounds().Min, xdraw.Src)
		return nil
	})
	if err != nil {
		return MosaicResult{}, err
	}

	missingCount := int(missing.Load())
	if req.AllowMissingTiles && float64(missingCount)/float64(len(tiles)) >= l.cfg.MissingTileRatio {
		return MosaicResult{}, fmt.Errorf("%w: too many missing tiles at z=%d (%d/%d)", common.ErrCoverage, zoom, missingCount, len(tiles))
	}

	cropped := crop(canvas, rng, req.BBox)
	out := fitWidth(cropped, l.cfg.MaxOutputWidth)
	preview, err := EncodePreview(out, l.cfg.PreviewFormat)
	if err != nil {
		return MosaicResult{}, err
	}

	return MosaicResult{
		Image:         out,
		UsedZoom:      zoom,
		Preview:       preview,
		PreviewFormat: previewFormat(l.cfg.PreviewFormat),
		MissingTiles:  missingCount,
		TotalTiles:    len(tiles),
		Source:        SourceTiles,
		BBox:          req.BBox,
	}, nil
}

// loadTile fetches and decodes one tile
func (l *Loader) loadTile(ctx context.Context, template string, t geo.TileIndex) (image.Image, error) {
	data, err := l.fetcher.Fetch(ctx, geo.FillTemplate(template, t))
	if err != nil {
		return nil, err
	}
	img, err := decodeTile(data)
	if err != nil {
		return nil, err
	}
	if l.cfg.TreatBlankAsMissing && isBlankTile(img) {
		return nil, errBlankTile
	}
	return img, nil
}

var errBlankTile = fmt.Errorf("%w: blank placeholder tile", common.ErrTileFetch)

// crop cuts the exact bbox pixel rectangle out of a tile range canvas
func crop(canvas *image.NRGBA, rng geo.TileRange, bbox geo.BBox) *image.NRGBA {
	left, top, right, bottom := geo.PixelRect(bbox, rng.Z)
	ox, oy := rng.PixelOrigin()

	x0 := int(math.Floor(left - ox))
	y0 := int(math.Floor(top - oy))
	x1 := max(int(math.Ceil(right-ox)), x0+1)
	y1 := max(int(math.Ceil(bottom-oy)), y0+1)

	rect := image.Rect(x0, y0, x1, y1).Intersect(canvas.Bounds())
	if rect.Empty() {
		rect = canvas.Bounds()
	}
	return canvas.SubImage(rect).(*image.NRGBA)
}
