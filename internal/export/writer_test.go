package export

import (
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/diff"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/logging"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func testResult() compare.Result {
	return compare.Result{
		ID:          "cmp-1",
		BBox:        geo.BBox{MinLon: 13.40, MinLat: 52.51, MaxLon: 13.41, MaxLat: 52.52},
		Before:      compare.SideResult{Label: "2019-08-01", UsedZoom: 16},
		After:       compare.SideResult{Label: "2024-03-01", UsedZoom: 17},
		Stats:       diff.Stats{Width: 8, Height: 6, ChangedPercent: 12.5},
		HeatmapPNG:  []byte{1, 2, 3},
		BeforeImage: solid(8, 6, color.NRGBA{R: 60, G: 60, B: 60, A: 255}),
		AfterImage:  solid(8, 6, color.NRGBA{R: 140, G: 140, B: 140, A: 255}),
		Heatmap:     solid(8, 6, color.NRGBA{R: 255, A: 120}),
	}
}

func TestWriteComparisonBoth(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, Format: common.OutputFormat{SavePNG: true, SaveGeoTIFF: true}}, logging.Discard())

	paths, err := w.WriteComparison(testResult())
	require.NoError(t, err)
	assert.Len(t, paths, 7)

	for _, p := range paths {
		assert.FileExists(t, p)
		assert.True(t, strings.HasPrefix(filepath.Base(p), "2019-08-01_vs_2024-03-01_"), p)
		assert.Contains(t, p, "_z17_")
	}

	var tif string
	for _, p := range paths {
		if strings.HasSuffix(p, "_heatmap.tif") {
			tif = p
		}
	}
	require.NotEmpty(t, tif)
	f, err := os.Open(tif)
	require.NoError(t, err)
	defer f.Close()
	img, err := tiff.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 120}, img.(*image.NRGBA).NRGBAAt(3, 3))
}

func TestWriteComparisonStats(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, Format: common.OutputFormat{SavePNG: true}}, logging.Discard())

	paths, err := w.WriteComparison(testResult())
	require.NoError(t, err)
	require.Len(t, paths, 4)

	data, err := os.ReadFile(paths[3])
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "cmp-1", got["id"])
	assert.Nil(t, got["heatmapPng"])
}

func TestWriteComparisonAnimation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, Animation: true}, logging.Discard())

	paths, err := w.WriteComparison(testResult())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, ".avi", filepath.Ext(paths[1]))
}

func TestWriteComparisonWithoutImages(t *testing.T) {
	w := NewWriter(Options{Dir: t.TempDir()}, logging.Discard())
	_, err := w.WriteComparison(compare.Result{ID: "x"})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}
