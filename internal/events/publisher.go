// Package events publishes comparison results to NATS for downstream
// consumers such as the ledger publisher
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/batikanor/geoproof/internal/diff"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/logging"
)

// SubjectComparisonCompleted carries one Comparison per finished run
const SubjectComparisonCompleted = "geoproof.comparison.completed"

// Comparison is the event payload for a finished comparison
type Comparison struct {
	ID             string     `json:"id"`
	BBox           geo.BBox   `json:"bbox"`
	BeforeLabel    string     `json:"beforeLabel,omitempty"`
	AfterLabel     string     `json:"afterLabel,omitempty"`
	BeforeZoom     int        `json:"beforeZoom"`
	AfterZoom      int        `json:"afterZoom"`
	Stats          diff.Stats `json:"stats"`
	ChangedAreaKm2 float64    `json:"changedAreaKm2"`
	HeatmapSHA256  string     `json:"heatmapSha256,omitempty"`
	CompletedAt    time.Time  `json:"completedAt"`
}

// conn is the subset of *nats.Conn the publisher needs
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher sends comparison events
type Publisher struct {
	conn   conn
	logger *slog.Logger
}

// Connect dials NATS and returns a publisher
func Connect(url string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("geoproof"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, logger), nil
}

func newPublisher(c conn, logger *slog.Logger) *Publisher {
	return &Publisher{conn: c, logger: logging.Component(logger, "events")}
}

// PublishComparison sends c on SubjectComparisonCompleted
func (p *Publisher) PublishComparison(ctx context.Context, c Comparison) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode comparison event: %w", err)
	}
	if err := p.conn.Publish(SubjectComparisonCompleted, data); err != nil {
		return fmt.Errorf("publish comparison event: %w", err)
	}
	p.logger.Debug("published comparison", "id", c.ID, "bytes", len(data))
	return nil
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
