// Package tileclient fetches raw tile bytes over HTTP with a per-request
// time box, provider rate limit tracking and an optional disk cache.
package tileclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/batikanor/geoproof/internal/cache"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/metrics"
	"github.com/batikanor/geoproof/internal/ratelimit"
)

const (
	// DefaultTimeout bounds a single tile request
	DefaultTimeout = 10 * time.Second

	// UserAgent identifies the client to tile servers
	UserAgent = "geoproof/1.0 (+https://github.com/batikanor/geoproof)"

	// maxTileBytes guards against servers streaming something that is not a tile
	maxTileBytes = 16 << 20
)

// Options configures a Client
type Options struct {
	Provider   string
	Timeout    time.Duration
	UserAgent  string
	RateLimit  *ratelimit.Handler
	Cache      *cache.TileCache
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client fetches tiles for one provider
type Client struct {
	httpClient *http.Client
	provider   string
	timeout    time.Duration
	userAgent  string
	limiter    *ratelimit.Handler
	cache      *cache.TileCache
	logger     *slog.Logger
}

// New creates a tile client. The default transport respects system proxy
// settings.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
			},
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}
	if opts.Provider == "" {
		opts.Provider = common.ProviderXYZ
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		provider:   opts.Provider,
		timeout:    opts.Timeout,
		userAgent:  opts.UserAgent,
		limiter:    opts.RateLimit,
		cache:      opts.Cache,
		logger:     opts.Logger.With("component", "tileclient", "provider", opts.Provider),
	}
}

// Provider returns the provider identifier used for limits and metrics
func (c *Client) Provider() string {
	return c.provider
}

// Fetch downloads one tile. Failures wrap common.ErrTileFetch; a request
// that exceeds the client timeout wraps common.ErrTileTimeout. Cancellation
// of ctx itself is returned as ctx.Err().
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(url); ok {
			metrics.CacheHits.WithLabelValues("tile").Inc()
			metrics.TileFetches.WithLabelValues(c.provider, "cache").Inc()
			return data, nil
		}
		metrics.CacheMisses.WithLabelValues("tile").Inc()
	}

	if c.limiter != nil {
		if until, blocked := c.limiter.Blocked(c.provider); blocked {
			metrics.TileFetches.WithLabelValues(c.provider, "rate_limited").Inc()
			return nil, fmt.Errorf("%w: %s rate limited until %s", common.ErrTileFetch, c.provider, until.Format(time.RFC3339))
		}
	}

	data, err := c.get(ctx, url)
	if err != nil {
		metrics.TileFetches.WithLabelValues(c.provider, resultLabel(err)).Inc()
		return nil, err
	}
	metrics.TileFetches.WithLabelValues(c.provider, "ok").Inc()

	if c.cache != nil {
		if err := c.cache.Set(url, data); err != nil {
			c.logger.Warn("failed to cache tile", "url", url, "error", err)
		}
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", common.ErrTileFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, url, err)
	}
	defer resp.Body.Close()
	metrics.TileFetchDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())

	if c.limiter != nil && c.limiter.Observe(c.provider, resp.StatusCode) {
		metrics.RateLimits.WithLabelValues(c.provider).Inc()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", common.ErrTileFetch, resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, c.classify(ctx, reqCtx, url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body for %s", common.ErrTileFetch, url)
	}
	return data, nil
}

// classify maps transport errors onto the tile error kinds
func (c *Client) classify(parent, reqCtx context.Context, url string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", common.ErrTileTimeout, url, c.timeout)
	}
	return fmt.Errorf("%w: %v", common.ErrTileFetch, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, common.ErrTileTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
