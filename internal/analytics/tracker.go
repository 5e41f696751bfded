// Package analytics sends product usage events to PostHog
package analytics

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// DefaultHost is the PostHog cloud endpoint
const DefaultHost = "https://us.i.posthog.com"

// Config holds the PostHog connection settings
type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Host       string `mapstructure:"host"`
	DistinctID string `mapstructure:"distinct_id"`
}

// client is the subset of posthog.Client we use
type client interface {
	Enqueue(posthog.Message) error
	Close() error
}

// Tracker enqueues events. A Tracker without an API key does nothing.
type Tracker struct {
	client     client
	distinctID string
	logger     *slog.Logger
}

// New creates a tracker. An empty API key yields a no-op tracker.
func New(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "analytics")

	// one id per process when none is configured
	distinctID := cfg.DistinctID
	if distinctID == "" {
		distinctID = uuid.NewString()
	}

	t := &Tracker{distinctID: distinctID, logger: logger}
	if cfg.APIKey == "" {
		return t
	}

	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	c, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: host})
	if err != nil {
		logger.Warn("failed to initialize PostHog", "error", err)
		return t
	}
	t.client = c
	return t
}

// Enabled reports whether events are sent anywhere
func (t *Tracker) Enabled() bool {
	return t != nil && t.client != nil
}

// Track sends an event
func (t *Tracker) Track(event string, props map[string]any) {
	if !t.Enabled() {
		return
	}
	err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: props,
	})
	if err != nil {
		t.logger.Debug("failed to enqueue event", "event", event, "error", err)
	}
}

// Close flushes pending events
func (t *Tracker) Close() error {
	if !t.Enabled() {
		return nil
	}
	return t.client.Close()
}
