package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})

	// Imagery pipeline metrics
	TileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "tiles",
		Name:      "fetches_total",
		Help:      "Tile requests by provider and result",
	}, []string{"provider", "result"})

	TileFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "tiles",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of tile requests that reached the network",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	RateLimits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "tiles",
		Name:      "rate_limited_total",
		Help:      "Rate limit responses by provider",
	}, []string{"provider"})

	ZoomDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "mosaic",
		Name:      "zoom_downgrades_total",
		Help:      "Mosaic attempts retried at a coarser zoom",
	})

	MosaicResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "mosaic",
		Name:      "results_total",
		Help:      "Mosaic loads by outcome",
	}, []string{"outcome"})

	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "timeline",
		Name:      "probes_total",
		Help:      "Snapshot probe requests by result",
	}, []string{"result"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"cache"})

	DiffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "diff",
		Name:      "duration_seconds",
		Help:      "Time spent computing pixel diffs",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})

	Comparisons = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "compare",
		Name:      "comparisons_total",
		Help:      "Comparisons by outcome",
	}, []string{"outcome"})
)

// Middleware returns a Gin middleware that records HTTP request metrics
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint as a Gin handler
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
