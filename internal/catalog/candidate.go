// Package catalog picks imagery candidates for a before/after comparison and
// queries STAC catalogs for them.
package catalog

import (
	"context"
	"time"

	"github.com/batikanor/geoproof/internal/geo"
)

// Candidate is one catalog item that may serve as a comparison side. Every
// attribute except ID may be absent.
type Candidate struct {
	ID              string     `json:"id"`
	Datetime        *time.Time `json:"datetime,omitempty"`
	CloudCover      *float64   `json:"cloudCover,omitempty"` // percent
	PreviewURL      *string    `json:"previewUrl,omitempty"`
	BBox            *geo.BBox  `json:"bbox,omitempty"`
	TileURLTemplate *string    `json:"tileUrlTemplate,omitempty"`
}

// Query is a catalog search
type Query struct {
	BBox       geo.BBox
	Start      time.Time
	End        time.Time
	Collection string
	Limit      int
	MaxCloud   *float64 // percent, optional server-side filter
}

// Catalog searches an imagery catalog
type Catalog interface {
	Search(ctx context.Context, q Query) ([]Candidate, error)
}
