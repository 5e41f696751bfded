// Package esri lists the dated releases of Esri World Imagery Wayback
package esri

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/tileclient"
	"github.com/batikanor/geoproof/internal/wayback"
	"github.com/batikanor/geoproof/internal/wmts"
)

const (
	// WayBackCapabilitiesURL lists every Wayback release
	WayBackCapabilitiesURL = "https://wayback.maptiles.arcgis.com/arcgis/rest/services/world_imagery/mapserver/wmts/1.0.0/wmtscapabilities.xml"

	// DefaultRefresh is how long a fetched release list is reused
	DefaultRefresh = 6 * time.Hour
)

// Client fetches and memoizes the Wayback release list
type Client struct {
	httpClient *http.Client
	url        string
	refresh    time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	versions  []wayback.Version
	byID      map[int]wayback.Version
	fetchedAt time.Time
	now       func() time.Time
}

// NewClient creates a client. An empty url uses WayBackCapabilitiesURL.
func NewClient(url string, httpClient *http.Client, refresh time.Duration, logger *slog.Logger) *Client {
	if url == "" {
		url = WayBackCapabilitiesURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		url:        url,
		refresh:    refresh,
		logger:     logger.With("component", "wayback-catalog"),
		now:        time.Now,
	}
}

// Versions returns all releases, newest first. The list is fetched once and
// reused until the refresh period passes; a failed refresh falls back to
// the previous list when there is one.
func (c *Client) Versions(ctx context.Context) ([]wayback.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versions != nil && c.now().Sub(c.fetchedAt) < c.refresh {
		return append([]wayback.Version(nil), c.versions...), nil
	}

	caps, err := wmts.FetchCapabilities(ctx, c.httpClient, c.url, tileclient.UserAgent)
	if err != nil {
		if c.versions != nil {
			c.logger.Warn("release list refresh failed, using previous list", "error", err)
			return append([]wayback.Version(nil), c.versions...), nil
		}
		return nil, err
	}

	versions := parseVersions(wmts.GetLayers(caps), c.logger)
	if len(versions) == 0 {
		return nil, fmt.Errorf("no wayback releases in capabilities")
	}

	c.versions = versions
	c.byID = make(map[int]wayback.Version, len(versions))
	for _, v := range versions {
		c.byID[v.ID] = v
	}
	c.fetchedAt = c.now()
	c.logger.Info("loaded wayback releases", "count", len(versions), "newest", versions[0].Date.Format("2006-01-02"))

	return append([]wayback.Version(nil), versions...), nil
}

// Version returns one release by id
func (c *Client) Version(ctx context.Context, id int) (wayback.Version, error) {
	if _, err := c.Versions(ctx); err != nil {
		return wayback.Version{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byID[id]
	if !ok {
		return wayback.Version{}, fmt.Errorf("%w: release %d not found", common.ErrInvalidRequest, id)
	}
	return v, nil
}

// parseVersions keeps layers with a tile template, a Wayback date and a
// release id, newest first
func parseVersions(layers []wmts.LayerInfo, logger *slog.Logger) []wayback.Version {
	var versions []wayback.Version
	for _, l := range layers {
		if l.TemplateURL == "" {
			continue
		}
		date, err := parseTitleDate(l.Title)
		if err != nil {
			logger.Debug("skipping layer", "title", l.Title, "error", err)
			continue
		}
		id, err := parseIDFromURL(l.TemplateURL)
		if err != nil {
			logger.Debug("skipping layer", "title", l.Title, "error", err)
			continue
		}
		versions = append(versions, wayback.Version{
			ID:              id,
			Date:            date,
			Title:           l.Title,
			TileURLTemplate: wmts.ConvertTemplateToXYZ(l.TemplateURL, l.TileMatrixSet),
		})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		if !versions[i].Date.Equal(versions[j].Date) {
			return versions[i].Date.After(versions[j].Date)
		}
		return versions[i].ID > versions[j].ID
	})
	return versions
}

// parseTitleDate reads the date out of "World Imagery (Wayback 2023-01-15)"
func parseTitleDate(title string) (time.Time, error) {
	const keyText = "(Wayback "
	idx := strings.Index(title, keyText)
	if idx == -1 {
		return time.Time{}, fmt.Errorf("could not parse date from title: %s", title)
	}

	dateStart := idx + len(keyText)
	dateEnd := strings.Index(title[dateStart:], ")")
	if dateEnd == -1 {
		return time.Time{}, fmt.Errorf("could not parse date from title: %s", title)
	}

	dateStr := title[dateStart : dateStart+dateEnd]
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse date %s: %w", dateStr, err)
	}
	return date, nil
}

func parseIDFromURL(resourceURL string) (int, error) {
	const keyText = "/MapServer/tile/"
	idx := strings.Index(resourceURL, keyText)
	if idx == -1 {
		return 0, fmt.Errorf("could not find MapServer in URL")
	}

	start := idx + len(keyText)
	end := strings.Index(resourceURL[start:], "/")
	if end == -1 {
		return 0, fmt.Errorf("could not parse ID from URL")
	}

	idStr := resourceURL[start : start+end]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, fmt.Errorf("could not parse ID %s: %w", idStr, err)
	}
	return id, nil
}
