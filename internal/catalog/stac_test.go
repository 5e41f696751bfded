package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/logging"
)

const searchResponse = `{
  "type": "FeatureCollection",
  "features": [
    {
      "id": "S2A_33UUU_20200612_0_L2A",
      "bbox": [13.0, 52.0, 14.0, 53.0],
      "properties": {"datetime": "2020-06-12T10:15:00Z", "eo:cloud_cover": 12.5},
      "assets": {"thumbnail": {"href": "https://example.com/thumb.jpg"}, "visual": {"href": "https://example.com/visual.tif"}},
      "links": [{"rel": "xyz", "href": "https://tiles.example.com/{z}/{x}/{y}.png"}]
    },
    {
      "id": "undated",
      "bbox": [13.0, 52.0, 0, 14.0, 53.0, 0],
      "properties": {"datetime": null},
      "assets": {}
    }
  ]
}`

func TestSTACSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	maxCloud := 30.0
	c := NewSTACClient(srv.URL+"/", nil, logging.Discard())
	cands, err := c.Search(context.Background(), Query{
		BBox:       geo.BBox{MinLon: 13.3, MinLat: 52.4, MaxLon: 13.5, MaxLat: 52.6},
		Start:      time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
		Collection: "sentinel-2-l2a",
		Limit:      50,
		MaxCloud:   &maxCloud,
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{13.3, 52.4, 13.5, 52.6}, got.BBox)
	assert.Equal(t, "2020-05-01T00:00:00Z/2020-07-01T00:00:00Z", got.Datetime)
	assert.Equal(t, []string{"sentinel-2-l2a"}, got.Collections)
	assert.Equal(t, 50, got.Limit)
	assert.EqualValues(t, 30, got.Query["eo:cloud_cover"]["lte"])

	require.Len(t, cands, 2)
	first := cands[0]
	assert.Equal(t, "S2A_33UUU_20200612_0_L2A", first.ID)
	require.NotNil(t, first.Datetime)
	assert.Equal(t, time.Date(2020, 6, 12, 10, 15, 0, 0, time.UTC), *first.Datetime)
	require.NotNil(t, first.CloudCover)
	assert.Equal(t, 12.5, *first.CloudCover)
	require.NotNil(t, first.PreviewURL)
	assert.Equal(t, "https://example.com/thumb.jpg", *first.PreviewURL)
	require.NotNil(t, first.TileURLTemplate)
	require.NotNil(t, first.BBox)
	assert.Equal(t, geo.BBox{MinLon: 13, MinLat: 52, MaxLon: 14, MaxLat: 53}, *first.BBox)

	second := cands[1]
	assert.Nil(t, second.Datetime)
	assert.Nil(t, second.CloudCover)
	assert.Nil(t, second.PreviewURL)
	require.NotNil(t, second.BBox)
	assert.Equal(t, 14.0, second.BBox.MaxLon)
}

func TestSTACSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad collection", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewSTACClient(srv.URL, nil, logging.Discard())
	_, err := c.Search(context.Background(), Query{BBox: geo.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = c.Search(context.Background(), Query{})
	assert.ErrorIs(t, err, common.ErrInvalidBBox)
}
