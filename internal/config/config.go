// Package config loads geoproof settings from defaults, an optional YAML
// file and GEOPROOF_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/batikanor/geoproof/internal/analytics"
	"github.com/batikanor/geoproof/internal/animation"
	"github.com/batikanor/geoproof/internal/cache"
	"github.com/batikanor/geoproof/internal/catalog"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/esri"
	"github.com/batikanor/geoproof/internal/imagery"
	"github.com/batikanor/geoproof/internal/wayback"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Cache     TileCacheConfig  `mapstructure:"cache"`
	Mosaic    imagery.Config   `mapstructure:"mosaic"`
	Probe     wayback.Config   `mapstructure:"probe"`
	Compare   compare.Config   `mapstructure:"compare"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	Wayback   WaybackConfig    `mapstructure:"wayback"`
	Valkey    ValkeyConfig     `mapstructure:"valkey"`
	NATS      NATSConfig       `mapstructure:"nats"`
	Analytics analytics.Config `mapstructure:"analytics"`
	Output    OutputConfig     `mapstructure:"output"`
	Queue     QueueConfig      `mapstructure:"queue"`
	Sources   []Source         `mapstructure:"sources"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	SessionLimit int           `mapstructure:"session_limit"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TileCacheConfig configures the on-disk tile cache
type TileCacheConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	cache.Config `mapstructure:",squash"`
}

type CatalogConfig struct {
	STACURL    string `mapstructure:"stac_url"`
	Collection string `mapstructure:"collection"`
}

type WaybackConfig struct {
	CapabilitiesURL string        `mapstructure:"capabilities_url"`
	Refresh         time.Duration `mapstructure:"refresh"`
}

// ValkeyConfig enables the shared timeline cache when Addr is set
type ValkeyConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// NATSConfig enables comparison events when URL is set
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Format    string `mapstructure:"format"`    // png, geotiff or both
	Animation string `mapstructure:"animation"` // empty, avi or gif
}

// QueueConfig configures the background comparison queue of the server
type QueueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Source is a named tile service usable in place of a raw template
type Source struct {
	Name        string `mapstructure:"name"`
	Type        string `mapstructure:"type"` // xyz or tms
	URL         string `mapstructure:"url"`
	Attribution string `mapstructure:"attribution"`
	MaxZoom     int    `mapstructure:"max_zoom"`
}

// Template returns the XYZ template of the source
func (s Source) Template() string {
	if s.Type == "tms" {
		return strings.ReplaceAll(s.URL, "{y}", "{-y}")
	}
	return s.URL
}

// Source looks up a named source
func (c *Config) Source(name string) (Source, bool) {
	for _, s := range c.Sources {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Source{}, false
}

// Load reads configuration. An empty path searches for geoproof.yaml in
// the working directory, ./configs and ~/.geoproof; a missing file is fine
// there but not when path is given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("geoproof")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".geoproof"))
		}
		_ = v.ReadInConfig() // OK if missing
	}

	// Environment variables: GEOPROOF_SERVER_ADDR → server.addr
	v.SetEnvPrefix("GEOPROOF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.session_limit", 1024)
	v.SetDefault("server.session_ttl", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	cc := cache.DefaultConfig()
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", cache.GetCacheDir())
	v.SetDefault("cache.max_size_mb", cc.MaxSizeMB)
	v.SetDefault("cache.ttl_days", cc.TTLDays)

	mc := imagery.DefaultConfig()
	v.SetDefault("mosaic.max_tile_budget", mc.MaxTileBudget)
	v.SetDefault("mosaic.max_attempts", mc.MaxAttempts)
	v.SetDefault("mosaic.max_output_width", mc.MaxOutputWidth)
	v.SetDefault("mosaic.missing_tile_ratio", mc.MissingTileRatio)
	v.SetDefault("mosaic.tile_concurrency", mc.TileConcurrency)
	v.SetDefault("mosaic.max_canvas_pixels", mc.MaxCanvasPixels)
	v.SetDefault("mosaic.preview_format", mc.PreviewFormat)
	v.SetDefault("mosaic.treat_blank_as_missing", mc.TreatBlankAsMissing)

	pc := wayback.DefaultConfig()
	v.SetDefault("probe.batch_size", pc.BatchSize)
	v.SetDefault("probe.max_retries", pc.MaxRetries)
	v.SetDefault("probe.retry_backoff", pc.RetryBackoff)
	v.SetDefault("probe.time_budget", pc.TimeBudget)
	v.SetDefault("probe.probe_budget", pc.ProbeBudget)
	v.SetDefault("probe.cache_ttl", pc.CacheTTL)
	v.SetDefault("probe.cache_size", pc.CacheSize)

	cmp := compare.DefaultConfig()
	v.SetDefault("compare.pair_concurrency", cmp.PairConcurrency)
	v.SetDefault("compare.default_zoom", cmp.DefaultZoom)
	v.SetDefault("compare.threshold", cmp.Threshold)
	v.SetDefault("compare.ignore_clouds", cmp.IgnoreClouds)
	v.SetDefault("compare.ignore_dark", cmp.IgnoreDark)
	v.SetDefault("compare.max_offset_days", cmp.MaxOffsetDays)
	v.SetDefault("compare.search_days", cmp.SearchDays)
	v.SetDefault("compare.timeline_limit", cmp.TimelineLimit)
	v.SetDefault("compare.timeline_zoom", cmp.TimelineZoom)

	v.SetDefault("catalog.stac_url", catalog.DefaultSTACURL)
	v.SetDefault("catalog.collection", "sentinel-2-l2a")
	v.SetDefault("wayback.capabilities_url", esri.WayBackCapabilitiesURL)
	v.SetDefault("wayback.refresh", esri.DefaultRefresh)

	v.SetDefault("valkey.addr", "")
	v.SetDefault("valkey.password", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("analytics.api_key", "")
	v.SetDefault("analytics.host", analytics.DefaultHost)
	v.SetDefault("analytics.distinct_id", "")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "png")
	v.SetDefault("output.animation", "")

	home, _ := os.UserHomeDir()
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.dir", filepath.Join(home, ".geoproof", "queue"))
}

// Validate checks that settings are present and sane, reporting every
// problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server timeouts must be positive")
	}
	if c.Cache.Enabled && c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required when the cache is enabled")
	}
	if c.Cache.MaxSizeMB < 0 || c.Cache.TTLDays < 0 {
		errs = append(errs, "cache.max_size_mb and cache.ttl_days must not be negative")
	}
	if c.Mosaic.MaxTileBudget < 1 {
		errs = append(errs, fmt.Sprintf("mosaic.max_tile_budget must be at least 1, got %d", c.Mosaic.MaxTileBudget))
	}
	if c.Mosaic.TileConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("mosaic.tile_concurrency must be at least 1, got %d", c.Mosaic.TileConcurrency))
	}
	if c.Mosaic.MissingTileRatio <= 0 || c.Mosaic.MissingTileRatio > 1 {
		errs = append(errs, fmt.Sprintf("mosaic.missing_tile_ratio must be in (0, 1], got %g", c.Mosaic.MissingTileRatio))
	}
	if c.Mosaic.PreviewFormat != imagery.FormatPNG && c.Mosaic.PreviewFormat != imagery.FormatWebP {
		errs = append(errs, fmt.Sprintf("mosaic.preview_format must be png or webp, got %q", c.Mosaic.PreviewFormat))
	}
	if c.Probe.BatchSize < 1 || c.Probe.ProbeBudget < 1 {
		errs = append(errs, "probe.batch_size and probe.probe_budget must be at least 1")
	}
	if c.Compare.PairConcurrency < 1 {
		errs = append(errs, "compare.pair_concurrency must be at least 1")
	}
	switch c.Output.Format {
	case "png", "geotiff", "both":
	default:
		errs = append(errs, fmt.Sprintf("output.format must be png, geotiff or both, got %q", c.Output.Format))
	}
	if c.Queue.Enabled && c.Queue.Dir == "" {
		errs = append(errs, "queue.dir is required when the queue is enabled")
	}
	switch c.Output.Animation {
	case "", animation.FormatAVI, animation.FormatGIF:
	default:
		errs = append(errs, fmt.Sprintf("output.animation must be empty, avi or gif, got %q", c.Output.Animation))
	}
	for i, s := range c.Sources {
		if err := ValidateSource(s); err != nil {
			errs = append(errs, fmt.Sprintf("sources[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateSource validates a named source
func ValidateSource(s Source) error {
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if s.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	switch s.Type {
	case "xyz", "tms":
	default:
		return fmt.Errorf("invalid source type: %s (must be xyz or tms)", s.Type)
	}
	if !strings.Contains(s.URL, "{z}") {
		return fmt.Errorf("source URL must contain {z}")
	}
	return nil
}
