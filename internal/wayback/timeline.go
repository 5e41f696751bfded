// Package wayback builds a deduplicated timeline of historical basemap
// snapshots by probing one tile per version and hashing its bytes.
package wayback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/batikanor/geoproof/internal/geo"
)

// Version is one dated publication of a historical basemap layer
type Version struct {
	ID              int       `json:"id"`
	Date            time.Time `json:"date"`
	Title           string    `json:"title,omitempty"`
	TileURLTemplate string    `json:"tileUrlTemplate"`
}

// Stop reasons reported on a Timeline
const (
	StopExhausted   = "exhausted"
	StopLimit       = "limit"
	StopProbeBudget = "probe_budget"
	StopTimeBudget  = "time_budget"
)

// Timeline is the set of content-distinct versions, oldest first
type Timeline struct {
	Versions          []Version `json:"versions"`
	SuggestedBeforeID int       `json:"suggestedBeforeId"`
	SuggestedAfterID  int       `json:"suggestedAfterId"`
	Probed            int       `json:"probed"`
	Failed            int       `json:"failed"`
	Duplicates        int       `json:"duplicates"`
	StopReason        string    `json:"stopReason"`
}

// Version returns the version with id, if present
func (t Timeline) Version(id int) (Version, bool) {
	for _, v := range t.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return Version{}, false
}

// TimelineRequest asks for a timeline at one probe tile
type TimelineRequest struct {
	Versions []Version // newest first
	Probe    geo.TileIndex
	Limit    int // <= 0 means no limit
	BBox     geo.BBox
}

// CacheKey identifies equivalent requests for the timeline cache
func CacheKey(req TimelineRequest) string {
	return fmt.Sprintf("%d/%d/%d|%s|%d", req.Probe.Z, req.Probe.X, req.Probe.Y, req.BBox, req.Limit)
}

// TimelineStore memoizes built timelines. Implementations expire entries on
// their own; a miss simply triggers a rebuild.
type TimelineStore interface {
	Get(ctx context.Context, key string) (Timeline, bool)
	Put(ctx context.Context, key string, t Timeline)
}

// SortVersions orders versions by date then id, ascending
func SortVersions(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		if !vs[i].Date.Equal(vs[j].Date) {
			return vs[i].Date.Before(vs[j].Date)
		}
		return vs[i].ID < vs[j].ID
	})
}
