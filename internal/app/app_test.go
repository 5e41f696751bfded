package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/config"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/logging"
	"github.com/batikanor/geoproof/internal/taskqueue"
)

func solidTile(t *testing.T, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, geo.TileSize, geo.TileSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Enabled = false
	cfg.Catalog.STACURL = ""
	cfg.Output.Dir = t.TempDir()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Queue.Dir = t.TempDir()
	return cfg
}

func TestCompareWritesArtifacts(t *testing.T) {
	before := solidTile(t, color.NRGBA{R: 60, G: 60, B: 60, A: 255})
	after := solidTile(t, color.NRGBA{R: 140, G: 140, B: 140, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if strings.HasPrefix(r.URL.Path, "/before/") {
			w.Write(before)
			return
		}
		w.Write(after)
	}))
	defer srv.Close()

	a, err := New(testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer a.Shutdown()

	res, paths, err := a.Compare(context.Background(), compare.Request{
		BBox:   geo.BBox{MinLon: 13.40, MinLat: 52.51, MaxLon: 13.41, MaxLat: 52.52},
		Zoom:   15,
		Before: compare.Side{Label: "2019-08-01", Template: srv.URL + "/before/{z}/{x}/{y}.png"},
		After:  compare.Side{Label: "2024-03-01", Template: srv.URL + "/after/{z}/{x}/{y}.png"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Stats.ChangedPercent, 0.01)
	assert.NotEmpty(t, res.ID)

	require.Len(t, paths, 4)
	for _, p := range paths {
		assert.FileExists(t, p)
		assert.True(t, strings.HasPrefix(filepath.Base(p), "2019-08-01_vs_2024-03-01_"), p)
	}
}

func TestExecuteTaskReportsFailure(t *testing.T) {
	a, err := New(testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer a.Shutdown()

	_, err = a.ExecuteTask(context.Background(), taskqueue.CompareTask{
		Request: compare.Request{BBox: geo.BBox{MinLon: 1, MinLat: 1, MaxLon: 0, MaxLat: 2}},
	})
	assert.ErrorIs(t, err, common.ErrInvalidBBox)
}

func TestNewRejectsBadOutputFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Format = "tiff"
	_, err := New(cfg, logging.Discard())
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer a.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
