package compare

import (
	"context"
	"fmt"
	"time"

	"github.com/batikanor/geoproof/internal/catalog"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/wayback"
)

// TimelineRequest asks for the distinct releases over an area
type TimelineRequest struct {
	BBox  geo.BBox
	Zoom  int // 0 uses the configured timeline zoom
	Limit int // 0 uses the configured limit, negative means no limit
}

// Timeline deduplicates the release list at the tile under the bbox center
func (s *Service) Timeline(ctx context.Context, req TimelineRequest) (wayback.Timeline, error) {
	if err := req.BBox.Validate(); err != nil {
		return wayback.Timeline{}, err
	}
	if s.versions == nil || s.timelines == nil {
		return wayback.Timeline{}, fmt.Errorf("%w: no release catalog configured", common.ErrInvalidRequest)
	}

	zoom := req.Zoom
	if zoom == 0 {
		zoom = s.cfg.TimelineZoom
	}
	if err := geo.ValidateZoom(zoom); err != nil {
		return wayback.Timeline{}, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.TimelineLimit
	}

	versions, err := s.versions.Versions(ctx)
	if err != nil {
		return wayback.Timeline{}, err
	}

	lon, lat := req.BBox.Center()
	return s.timelines.BuildTimeline(ctx, wayback.TimelineRequest{
		Versions: versions,
		Probe:    geo.TileForLonLat(lon, lat, zoom),
		Limit:    limit,
		BBox:     req.BBox,
	})
}

// CandidateRequest searches the image catalog around a target date
type CandidateRequest struct {
	BBox          geo.BBox
	Target        time.Time
	SearchDays    float64 // half-width of the search window; 0 uses the default
	MaxOffsetDays float64 // clearest-pick window; 0 uses the default
	Collection    string
	Limit         int
	MaxCloud      *float64
}

// CandidateResult holds the search hits and the picks among them
type CandidateResult struct {
	Candidates []catalog.Candidate `json:"candidates"`
	Selection  catalog.Selection   `json:"selection"`
}

// Candidates searches the catalog and picks the closest and clearest scenes
func (s *Service) Candidates(ctx context.Context, req CandidateRequest) (CandidateResult, error) {
	if err := req.BBox.Validate(); err != nil {
		return CandidateResult{}, err
	}
	if s.catalog == nil {
		return CandidateResult{}, fmt.Errorf("%w: no image catalog configured", common.ErrInvalidRequest)
	}
	if req.Target.IsZero() {
		return CandidateResult{}, fmt.Errorf("%w: target date required", common.ErrInvalidRequest)
	}

	window := req.SearchDays
	if window <= 0 {
		window = s.cfg.SearchDays
	}
	offset := req.MaxOffsetDays
	if offset <= 0 {
		offset = s.cfg.MaxOffsetDays
	}
	span := time.Duration(window * 24 * float64(time.Hour))

	cands, err := s.catalog.Search(ctx, catalog.Query{
		BBox:       req.BBox,
		Start:      req.Target.Add(-span),
		End:        req.Target.Add(span),
		Collection: req.Collection,
		Limit:      req.Limit,
		MaxCloud:   req.MaxCloud,
	})
	if err != nil {
		return CandidateResult{}, err
	}

	s.logger.Debug("candidates found", "count", len(cands), "target", common.FormatISO8601(req.Target))
	return CandidateResult{
		Candidates: cands,
		Selection:  catalog.Select(cands, req.Target, offset),
	}, nil
}
