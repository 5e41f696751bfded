// Package diff computes a per-pixel change heatmap between two aligned
// mosaics, optionally masking cloud-like and very dark pixels.
package diff

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/metrics"
)

// Masking heuristics
const (
	CloudMinLuma       = 210.0
	CloudMaxSaturation = 0.18
	DarkMaxLuma        = 18.0

	heatAlphaBase = 40
	heatAlphaMax  = 220
)

// Options controls the comparison
type Options struct {
	Threshold    uint8 `json:"threshold"`
	IgnoreClouds bool  `json:"ignoreClouds"`
	IgnoreDark   bool  `json:"ignoreDark"`
}

// Stats summarises a diff
type Stats struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	MeanDiff       float64 `json:"meanDiff"`
	ChangedPercent float64 `json:"changedPercent"`
	Considered     int     `json:"considered"`
	Masked         int     `json:"masked"`
	Changed        int     `json:"changed"`
}

// Compute compares before and after over their common top-left region. The
// heatmap is red where the mean absolute channel difference reaches the
// threshold, with alpha growing with the difference; masked and unchanged
// pixels are fully transparent.
func Compute(before, after *image.NRGBA, opts Options) (*image.NRGBA, Stats, error) {
	start := time.Now()
	defer func() { metrics.DiffDuration.Observe(time.Since(start).Seconds()) }()

	if before == nil || after == nil {
		return nil, Stats{}, fmt.Errorf("%w: missing input image", common.ErrRenderTarget)
	}

	bb, ab := before.Bounds(), after.Bounds()
	w := min(bb.Dx(), ab.Dx())
	h := min(bb.Dy(), ab.Dy())
	stats := Stats{Width: w, Height: h}
	if w <= 0 || h <= 0 {
		return nil, stats, fmt.Errorf("%w: empty overlap %dx%d", common.ErrAllPixelsMasked, w, h)
	}

	heat := image.NewNRGBA(image.Rect(0, 0, w, h))
	var sum float64

	for y := 0; y < h; y++ {
		bi := before.PixOffset(bb.Min.X, bb.Min.Y+y)
		ai := after.PixOffset(ab.Min.X, ab.Min.Y+y)
		hi := heat.PixOffset(0, y)

		for x := 0; x < w; x, bi, ai, hi = x+1, bi+4, ai+4, hi+4 {
			br, bg, bbl := before.Pix[bi], before.Pix[bi+1], before.Pix[bi+2]
			ar, ag, abl := after.Pix[ai], after.Pix[ai+1], after.Pix[ai+2]

			if masked(br, bg, bbl, ar, ag, abl, opts) {
				stats.Masked++
				continue
			}

			d := float64(absDiff(br, ar)+absDiff(bg, ag)+absDiff(bbl, abl)) / 3
			stats.Considered++
			sum += d

			if d >= float64(opts.Threshold) {
				stats.Changed++
				heat.Pix[hi] = 255
				heat.Pix[hi+3] = uint8(math.Round(min(heatAlphaMax, heatAlphaBase+d)))
			}
		}
	}

	if stats.Considered == 0 {
		return heat, stats, fmt.Errorf("%w: %d of %d pixels excluded; try disabling cloud or dark masking",
			common.ErrAllPixelsMasked, stats.Masked, w*h)
	}

	stats.MeanDiff = sum / float64(stats.Considered)
	stats.ChangedPercent = 100 * float64(stats.Changed) / float64(stats.Considered)
	return heat, stats, nil
}

func masked(br, bg, bb, ar, ag, ab uint8, opts Options) bool {
	if opts.IgnoreClouds && (IsCloudLike(br, bg, bb) || IsCloudLike(ar, ag, ab)) {
		return true
	}
	if opts.IgnoreDark && (IsVeryDark(br, bg, bb) || IsVeryDark(ar, ag, ab)) {
		return true
	}
	return false
}

// Luma returns Rec. 709 luma of an 8-bit RGB triple
func Luma(r, g, b uint8) float64 {
	return 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
}

// Saturation returns (max-min)/max, or 0 for black
func Saturation(r, g, b uint8) float64 {
	hi := max(r, g, b)
	if hi == 0 {
		return 0
	}
	lo := min(r, g, b)
	return float64(hi-lo) / float64(hi)
}

// IsCloudLike reports bright, nearly grey pixels
func IsCloudLike(r, g, b uint8) bool {
	return Luma(r, g, b) >= CloudMinLuma && Saturation(r, g, b) <= CloudMaxSaturation
}

// IsVeryDark reports pixels too dark to carry signal (shadow, night, nodata)
func IsVeryDark(r, g, b uint8) bool {
	return Luma(r, g, b) <= DarkMaxLuma
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
