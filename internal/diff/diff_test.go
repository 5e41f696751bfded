package diff

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batikanor/geoproof/internal/common"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestComputeSolidScenario(t *testing.T) {
	before := solid(4, 4, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	after := solid(4, 4, color.NRGBA{R: 140, G: 140, B: 100, A: 255})

	heat, stats, err := Compute(before, after, Options{Threshold: 20})
	require.NoError(t, err)

	assert.InDelta(t, 26.67, stats.MeanDiff, 0.01)
	assert.Equal(t, 100.0, stats.ChangedPercent)
	assert.Equal(t, 16, stats.Considered)
	assert.Equal(t, 16, stats.Changed)
	assert.Zero(t, stats.Masked)

	// alpha = min(220, 40 + 26.67)
	assert.Equal(t, color.NRGBA{R: 255, A: 67}, heat.NRGBAAt(2, 2))
}

func TestComputeIdenticalBuffers(t *testing.T) {
	img := noise(32, 24, 1)
	for _, threshold := range []uint8{1, 20, 255} {
		heat, stats, err := Compute(img, img, Options{Threshold: threshold})
		require.NoError(t, err)
		assert.Zero(t, stats.MeanDiff)
		assert.Zero(t, stats.ChangedPercent)
		assert.Zero(t, heat.NRGBAAt(5, 5).A)
	}
}

func TestComputeThresholdMonotonic(t *testing.T) {
	before, after := noise(40, 40, 2), noise(40, 40, 3)
	prev := 101.0
	for threshold := 0; threshold <= 255; threshold += 5 {
		_, stats, err := Compute(before, after, Options{Threshold: uint8(threshold)})
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.ChangedPercent, prev, "threshold %d", threshold)
		prev = stats.ChangedPercent
	}
}

func TestComputeCountsPartition(t *testing.T) {
	before, after := noise(17, 9, 4), noise(17, 9, 5)
	// Seed some clouds and shadows
	for x := 0; x < 17; x++ {
		before.SetNRGBA(x, 0, color.NRGBA{R: 240, G: 240, B: 235, A: 255})
		after.SetNRGBA(x, 8, color.NRGBA{R: 3, G: 3, B: 3, A: 255})
	}
	for _, opts := range []Options{
		{Threshold: 30},
		{Threshold: 30, IgnoreClouds: true},
		{Threshold: 30, IgnoreDark: true},
		{Threshold: 30, IgnoreClouds: true, IgnoreDark: true},
	} {
		_, stats, err := Compute(before, after, opts)
		require.NoError(t, err)
		assert.Equal(t, stats.Width*stats.Height, stats.Considered+stats.Masked, "%+v", opts)
		assert.LessOrEqual(t, stats.Changed, stats.Considered)
	}
}

func TestComputeUsesCommonRegion(t *testing.T) {
	before := solid(10, 6, color.NRGBA{R: 50, G: 50, B: 50, A: 255})
	after := solid(7, 8, color.NRGBA{R: 50, G: 50, B: 50, A: 255})
	heat, stats, err := Compute(before, after, Options{Threshold: 10})
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Width)
	assert.Equal(t, 6, stats.Height)
	assert.Equal(t, image.Rect(0, 0, 7, 6), heat.Bounds())
}

func TestComputeSubImageOffsets(t *testing.T) {
	base := solid(8, 8, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	base.SetNRGBA(4, 4, color.NRGBA{R: 250, G: 10, B: 10, A: 255})
	sub := base.SubImage(image.Rect(4, 4, 8, 8)).(*image.NRGBA)
	ref := solid(4, 4, color.NRGBA{R: 10, G: 10, B: 10, A: 255})

	heat, stats, err := Compute(ref, sub, Options{Threshold: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Changed)
	assert.Equal(t, uint8(255), heat.NRGBAAt(0, 0).R)
	assert.Zero(t, heat.NRGBAAt(1, 1).A)
}

func TestComputeAllClouds(t *testing.T) {
	white := solid(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	_, stats, err := Compute(white, white, Options{Threshold: 10, IgnoreClouds: true})
	assert.ErrorIs(t, err, common.ErrAllPixelsMasked)
	assert.Equal(t, 16, stats.Masked)
	assert.Zero(t, stats.Considered)
}

func TestComputeMasksEitherSide(t *testing.T) {
	before := solid(2, 1, color.NRGBA{R: 120, G: 90, B: 60, A: 255})
	after := solid(2, 1, color.NRGBA{R: 120, G: 90, B: 60, A: 255})
	after.SetNRGBA(0, 0, color.NRGBA{R: 5, G: 5, B: 5, A: 255})

	_, stats, err := Compute(before, after, Options{Threshold: 10, IgnoreDark: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Masked)
	assert.Equal(t, 1, stats.Considered)
	assert.Zero(t, stats.Changed)

	_, stats, err = Compute(before, after, Options{Threshold: 10})
	require.NoError(t, err)
	assert.Zero(t, stats.Masked)
	assert.Equal(t, 1, stats.Changed)
}

func TestHeatAlphaCapped(t *testing.T) {
	heat, _, err := Compute(
		solid(1, 1, color.NRGBA{A: 255}),
		solid(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
		Options{Threshold: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, uint8(220), heat.NRGBAAt(0, 0).A)
}

func TestPixelClassifiers(t *testing.T) {
	assert.True(t, IsCloudLike(230, 232, 228))
	assert.False(t, IsCloudLike(250, 200, 100), "saturated bright pixels are not clouds")
	assert.False(t, IsCloudLike(180, 180, 180))
	assert.True(t, IsVeryDark(10, 20, 10))
	assert.False(t, IsVeryDark(30, 30, 30))
	assert.Zero(t, Saturation(0, 0, 0))
	assert.InDelta(t, 0.5, Saturation(200, 100, 150), 1e-9)
	assert.InDelta(t, 255, Luma(255, 255, 255), 1e-9)
}

func TestComputeNilInput(t *testing.T) {
	_, _, err := Compute(nil, solid(1, 1, color.NRGBA{}), Options{})
	assert.ErrorIs(t, err, common.ErrRenderTarget)
}
