// Package export writes comparison artifacts to disk
package export

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/batikanor/geoproof/internal/animation"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/logging"
	"github.com/batikanor/geoproof/internal/utils/naming"
	"github.com/batikanor/geoproof/pkg/geotiff"
)

// Options selects what a Writer produces
type Options struct {
	Dir       string
	Format    common.OutputFormat
	Animation bool
	AnimOpts  animation.Options
}

// Writer saves comparison results
type Writer struct {
	opts   Options
	anim   *animation.Exporter
	logger *slog.Logger
}

// NewWriter creates a writer
func NewWriter(opts Options, logger *slog.Logger) *Writer {
	w := &Writer{opts: opts, logger: logging.Component(logger, "export")}
	if opts.Animation {
		w.anim = animation.NewExporter(opts.AnimOpts, logger)
	}
	return w
}

// WriteComparison writes the images, stats and optional animation of res
// and returns the paths written
func (w *Writer) WriteComparison(res compare.Result) ([]string, error) {
	if res.BeforeImage == nil || res.AfterImage == nil || res.Heatmap == nil {
		return nil, fmt.Errorf("%w: comparison result has no images", common.ErrInvalidRequest)
	}
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	zoom := max(res.Before.UsedZoom, res.After.UsedZoom, 0)
	base := naming.ComparisonBaseName(res.Before.Label, res.After.Label, res.BBox, zoom)
	images := []struct {
		kind string
		img  *image.NRGBA
	}{
		{"before", res.BeforeImage},
		{"after", res.AfterImage},
		{"heatmap", res.Heatmap},
	}

	var written []string
	for _, it := range images {
		if w.opts.Format.SavePNG {
			path := filepath.Join(w.opts.Dir, naming.OutputFilename(base, it.kind, "png"))
			if err := writePNG(path, it.img); err != nil {
				return written, err
			}
			written = append(written, path)
		}
		if w.opts.Format.SaveGeoTIFF {
			path := filepath.Join(w.opts.Dir, naming.OutputFilename(base, it.kind, "tif"))
			desc := fmt.Sprintf("geoproof %s %s", it.kind, res.ID)
			if err := writeGeoTIFF(path, it.img, res, desc); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}

	statsPath := filepath.Join(w.opts.Dir, naming.OutputFilename(base, "stats", "json"))
	if err := writeJSON(statsPath, res); err != nil {
		return written, err
	}
	written = append(written, statsPath)

	if w.anim != nil {
		frames := animation.ComparisonFrames(res.BeforeImage, res.AfterImage, res.Heatmap, res.Before.Label, res.After.Label)
		path, err := w.anim.Export(frames, filepath.Join(w.opts.Dir, naming.OutputFilename(base, "flicker", "avi")))
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	w.logger.Info("comparison exported", "id", res.ID, "files", len(written), "dir", w.opts.Dir)
	return written, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func writeGeoTIFF(path string, img *image.NRGBA, res compare.Result, desc string) error {
	g, err := geotiff.ForBBox(res.BBox, img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		return err
	}
	g.Description = desc

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := geotiff.Encode(f, img, g); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func writeJSON(path string, res compare.Result) error {
	// the heatmap already lands next to this file
	res.HeatmapPNG = nil
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
