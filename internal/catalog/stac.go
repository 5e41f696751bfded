package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
)

// DefaultSTACURL is the Element 84 Earth Search endpoint
const DefaultSTACURL = "https://earth-search.aws.element84.com/v1"

// Preview asset keys in order of preference
var previewAssetKeys = []string{"thumbnail", "rendered_preview", "overview"}

// STACClient searches a STAC API for candidate scenes
type STACClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSTACClient creates a client for the STAC API rooted at baseURL
func NewSTACClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *STACClient {
	if baseURL == "" {
		baseURL = DefaultSTACURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &STACClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "stac"),
	}
}

type searchRequest struct {
	BBox        []float64                 `json:"bbox"`
	Datetime    string                    `json:"datetime"`
	Collections []string                  `json:"collections,omitempty"`
	Limit       int                       `json:"limit,omitempty"`
	Query       map[string]map[string]any `json:"query,omitempty"`
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string           `json:"id"`
	BBox       []float64        `json:"bbox"`
	Properties properties       `json:"properties"`
	Assets     map[string]asset `json:"assets"`
	Links      []link           `json:"links"`
}

type properties struct {
	Datetime   *string  `json:"datetime"`
	CloudCover *float64 `json:"eo:cloud_cover"`
}

type asset struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Search posts q to {baseURL}/search and converts features to candidates
func (c *STACClient) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if err := q.BBox.Validate(); err != nil {
		return nil, err
	}

	body := searchRequest{
		BBox:     []float64{q.BBox.MinLon, q.BBox.MinLat, q.BBox.MaxLon, q.BBox.MaxLat},
		Datetime: fmt.Sprintf("%s/%s", q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339)),
		Limit:    q.Limit,
	}
	if q.Collection != "" {
		body.Collections = []string{q.Collection}
	}
	if q.MaxCloud != nil {
		body.Query = map[string]map[string]any{"eo:cloud_cover": {"lte": *q.MaxCloud}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stac search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stac search failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to parse stac response: %w", err)
	}

	cands := make([]Candidate, 0, len(fc.Features))
	for _, f := range fc.Features {
		cands = append(cands, c.toCandidate(f))
	}
	c.logger.Debug("stac search", "collection", q.Collection, "results", len(cands))
	return cands, nil
}

func (c *STACClient) toCandidate(f feature) Candidate {
	cand := Candidate{ID: f.ID, CloudCover: f.Properties.CloudCover}

	if f.Properties.Datetime != nil {
		if t, err := common.ParseFlexibleDate(*f.Properties.Datetime); err == nil {
			cand.Datetime = &t
		} else {
			c.logger.Debug("skipping unparseable datetime", "id", f.ID, "error", err)
		}
	}

	if len(f.BBox) >= 4 {
		// 3D bboxes carry elevation after each corner
		var b geo.BBox
		if len(f.BBox) == 6 {
			b = geo.BBox{MinLon: f.BBox[0], MinLat: f.BBox[1], MaxLon: f.BBox[3], MaxLat: f.BBox[4]}
		} else {
			b = geo.BBox{MinLon: f.BBox[0], MinLat: f.BBox[1], MaxLon: f.BBox[2], MaxLat: f.BBox[3]}
		}
		if b.Validate() == nil {
			cand.BBox = &b
		}
	}

	for _, key := range previewAssetKeys {
		if a, ok := f.Assets[key]; ok && a.Href != "" {
			href := a.Href
			cand.PreviewURL = &href
			break
		}
	}

	for _, l := range f.Links {
		if l.Rel == "xyz" && l.Href != "" {
			href := l.Href
			cand.TileURLTemplate = &href
			break
		}
	}
	return cand
}
