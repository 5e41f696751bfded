package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 36, cfg.Mosaic.MaxTileBudget)
	assert.Equal(t, 1, cfg.Mosaic.TileConcurrency)
	assert.Equal(t, 10, cfg.Probe.BatchSize)
	assert.Equal(t, 180, cfg.Probe.ProbeBudget)
	assert.Equal(t, 30*time.Second, cfg.Probe.TimeBudget)
	assert.Equal(t, 200*time.Millisecond, cfg.Probe.RetryBackoff)
	assert.Equal(t, 2, cfg.Compare.PairConcurrency)
	assert.Equal(t, uint8(35), cfg.Compare.Threshold)
	assert.Equal(t, 250, cfg.Cache.MaxSizeMB)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geoproof.yaml")
	yaml := `
server:
  addr: ":9090"
probe:
  time_budget: 10s
mosaic:
  tile_concurrency: 4
sources:
  - name: osm
    type: xyz
    url: https://tile.openstreetmap.org/{z}/{x}/{y}.png
  - name: legacy
    type: tms
    url: https://tms.example.test/{z}/{x}/{y}.jpg
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("GEOPROOF_MOSAIC_MAX_TILE_BUDGET", "16")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Probe.TimeBudget)
	assert.Equal(t, 4, cfg.Mosaic.TileConcurrency)
	assert.Equal(t, 16, cfg.Mosaic.MaxTileBudget)

	src, ok := cfg.Source("OSM")
	require.True(t, ok)
	assert.Equal(t, "https://tile.openstreetmap.org/{z}/{x}/{y}.png", src.Template())

	legacy, ok := cfg.Source("legacy")
	require.True(t, ok)
	assert.Equal(t, "https://tms.example.test/{z}/{x}/{-y}.jpg", legacy.Template())

	_, ok = cfg.Source("missing")
	assert.False(t, ok)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Addr = ""
	cfg.Mosaic.TileConcurrency = 0
	cfg.Output.Format = "tiff"
	cfg.Sources = []Source{{Name: "bad", Type: "wms", URL: "https://x/{z}"}}

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
	assert.Contains(t, err.Error(), "mosaic.tile_concurrency")
	assert.Contains(t, err.Error(), "output.format")
	assert.Contains(t, err.Error(), "sources[0]")
}

func TestValidateSource(t *testing.T) {
	assert.NoError(t, ValidateSource(Source{Name: "a", Type: "xyz", URL: "https://a/{z}/{x}/{y}"}))
	assert.Error(t, ValidateSource(Source{Type: "xyz", URL: "https://a/{z}/{x}/{y}"}))
	assert.Error(t, ValidateSource(Source{Name: "a", Type: "xyz"}))
	assert.Error(t, ValidateSource(Source{Name: "a", Type: "xyz", URL: "https://a/static.png"}))
}
