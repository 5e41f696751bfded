package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/batikanor/geoproof/internal/common"
)

// RetryStrategy defines the cooldown intervals applied after consecutive
// rate limit responses from one provider
type RetryStrategy struct {
	Intervals []time.Duration
}

// DefaultRetryStrategy returns the default escalating cooldown
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
	}
}

// Event represents a rate limit occurrence
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"` // 0 = first occurrence
	NextRetryAt  time.Time `json:"nextRetryAt"`
	Message      string    `json:"message"`
}

// Handler tracks per-provider cooldowns. Tile requests consult Blocked
// before going to the network and report every response status to Observe.
type Handler struct {
	mu          sync.RWMutex
	rateLimited map[string]*Event
	strategy    *RetryStrategy
	onRateLimit func(event Event)
	onRecovered func(provider string)
	now         func() time.Time
	logger      *slog.Logger
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy, logger *slog.Logger) *Handler {
	if strategy == nil || len(strategy.Intervals) == 0 {
		strategy = DefaultRetryStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		rateLimited: make(map[string]*Event),
		strategy:    strategy,
		now:         time.Now,
		logger:      logger.With("component", "ratelimit"),
	}
}

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRecovered sets the callback for recovery from rate limit
func (h *Handler) SetOnRecovered(callback func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimitStatus reports whether an HTTP status signals throttling
func IsRateLimitStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusForbidden ||
		status == 509 // Bandwidth Limit Exceeded
}

// Observe records the status of a provider response. It returns true when
// the status is a rate limit signal.
func (h *Handler) Observe(provider string, status int) bool {
	if !IsRateLimitStatus(status) {
		if status >= 200 && status < 300 {
			h.clear(provider)
		}
		return false
	}
	h.record(provider, status)
	return true
}

// Blocked reports whether the provider is still cooling down and until when
func (h *Handler) Blocked(provider string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, exists := h.rateLimited[provider]
	if !exists || !h.now().Before(event.NextRetryAt) {
		return time.Time{}, false
	}
	return event.NextRetryAt, true
}

// State returns a copy of the current rate limit state for a provider
func (h *Handler) State(provider string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if event, exists := h.rateLimited[provider]; exists {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

func (h *Handler) record(provider string, statusCode int) {
	h.mu.Lock()

	retryAttempt := 0
	if existing, exists := h.rateLimited[provider]; exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	interval := h.strategy.Intervals[len(h.strategy.Intervals)-1]
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	}

	now := h.now()
	event := Event{
		Timestamp:    now,
		Provider:     provider,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  now.Add(interval),
		Message: fmt.Sprintf("%s rate limited (HTTP %d), cooling down for %s",
			common.DisplayName(provider), statusCode, interval),
	}
	h.rateLimited[provider] = &event
	callback := h.onRateLimit
	h.mu.Unlock()

	h.logger.Warn("provider rate limited",
		"provider", provider,
		"status", statusCode,
		"attempt", retryAttempt,
		"next_retry_at", event.NextRetryAt.Format(time.RFC3339))

	if callback != nil {
		callback(event)
	}
}

func (h *Handler) clear(provider string) {
	h.mu.Lock()
	_, exists := h.rateLimited[provider]
	delete(h.rateLimited, provider)
	callback := h.onRecovered
	h.mu.Unlock()

	if !exists {
		return
	}
	h.logger.Info("provider rate limit cleared", "provider", provider)
	if callback != nil {
		callback(provider)
	}
}
