package compare

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batikanor/geoproof/internal/catalog"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/events"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/imagery"
	"github.com/batikanor/geoproof/internal/logging"
	"github.com/batikanor/geoproof/internal/wayback"
)

type mockLoader struct {
	LoadMosaicFn  func(ctx context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error)
	CropPreviewFn func(ctx context.Context, req imagery.PreviewRequest) (imagery.MosaicResult, error)
}

func (m *mockLoader) LoadMosaic(ctx context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error) {
	return m.LoadMosaicFn(ctx, req)
}

func (m *mockLoader) CropPreview(ctx context.Context, req imagery.PreviewRequest) (imagery.MosaicResult, error) {
	return m.CropPreviewFn(ctx, req)
}

type mockVersions struct {
	VersionsFn func(ctx context.Context) ([]wayback.Version, error)
}

func (m *mockVersions) Versions(ctx context.Context) ([]wayback.Version, error) {
	return m.VersionsFn(ctx)
}

type mockTimelines struct {
	BuildTimelineFn func(ctx context.Context, req wayback.TimelineRequest) (wayback.Timeline, error)
}

func (m *mockTimelines) BuildTimeline(ctx context.Context, req wayback.TimelineRequest) (wayback.Timeline, error) {
	return m.BuildTimelineFn(ctx, req)
}

type mockCatalog struct {
	SearchFn func(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error)
}

func (m *mockCatalog) Search(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error) {
	return m.SearchFn(ctx, q)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Comparison
	err    error
}

func (m *mockPublisher) PublishComparison(_ context.Context, c events.Comparison) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, c)
	return m.err
}

type mockTracker struct {
	tracked []string
}

func (m *mockTracker) Track(event string, _ map[string]any) {
	m.tracked = append(m.tracked, event)
}

var testBBox = geo.BBox{MinLon: 13.40, MinLat: 52.51, MaxLon: 13.41, MaxLat: 52.52}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var (
	grey  = color.NRGBA{R: 60, G: 60, B: 60, A: 255}
	light = color.NRGBA{R: 140, G: 140, B: 140, A: 255}
)

// tileLoader serves a solid image per template
func tileLoader(images map[string]*image.NRGBA) *mockLoader {
	return &mockLoader{
		LoadMosaicFn: func(_ context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error) {
			img, ok := images[req.Template]
			if !ok {
				return imagery.MosaicResult{}, fmt.Errorf("%w: no tiles for %s", common.ErrTileFetch, req.Template)
			}
			return imagery.MosaicResult{Image: img, UsedZoom: 17, Source: imagery.SourceTiles, TotalTiles: 4, Attempts: 1}, nil
		},
		CropPreviewFn: func(_ context.Context, req imagery.PreviewRequest) (imagery.MosaicResult, error) {
			img, ok := images[req.URL]
			if !ok {
				return imagery.MosaicResult{}, fmt.Errorf("%w: no preview %s", common.ErrTileFetch, req.URL)
			}
			return imagery.MosaicResult{Image: img, UsedZoom: -1, Source: imagery.SourcePreview}, nil
		},
	}
}

func newTestService(deps Deps) *Service {
	deps.Logger = logging.Discard()
	return NewService(DefaultConfig(), deps)
}

func TestCompare(t *testing.T) {
	pub := &mockPublisher{}
	tr := &mockTracker{}
	svc := newTestService(Deps{
		Loader: tileLoader(map[string]*image.NRGBA{
			"before/{z}/{x}/{y}": solid(4, 4, grey),
			"after/{z}/{x}/{y}":  solid(4, 4, light),
		}),
		Publisher: pub,
		Tracker:   tr,
	})

	res, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "before/{z}/{x}/{y}", Label: "2020"},
		After:  Side{Template: "after/{z}/{x}/{y}", Label: "2024"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 16, res.Stats.Considered)
	assert.InDelta(t, 80, res.Stats.MeanDiff, 1e-9)
	assert.InDelta(t, 100, res.Stats.ChangedPercent, 1e-9)
	assert.InDelta(t, testBBox.AreaKm2(), res.ChangedAreaKm2, 1e-9)
	assert.Equal(t, imagery.SourceTiles, res.Before.Source)
	assert.Equal(t, 4, res.After.Width)
	assert.NotEmpty(t, res.HeatmapPNG)

	require.Len(t, pub.events, 1)
	assert.Equal(t, res.ID, pub.events[0].ID)
	assert.Equal(t, "2020", pub.events[0].BeforeLabel)
	assert.Len(t, pub.events[0].HeatmapSHA256, 64)
	assert.Equal(t, []string{"comparison_completed"}, tr.tracked)
}

func TestCompareLoadsSidesConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	loader := &mockLoader{
		LoadMosaicFn: func(ctx context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error) {
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return imagery.MosaicResult{}, errors.New("sides were loaded one after the other")
			}
			return imagery.MosaicResult{Image: solid(2, 2, grey), Source: imagery.SourceTiles}, nil
		},
	}
	svc := newTestService(Deps{Loader: loader})

	_, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "a"},
		After:  Side{Template: "b"},
	})
	require.NoError(t, err)
}

func TestCompareFallsBackToPreviews(t *testing.T) {
	svc := newTestService(Deps{Loader: tileLoader(map[string]*image.NRGBA{
		"before/{z}/{x}/{y}":          solid(4, 4, grey),
		"https://img.test/before.png": solid(6, 6, grey),
		"https://img.test/after.png":  solid(6, 6, light),
	})})

	res, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "before/{z}/{x}/{y}", PreviewURL: "https://img.test/before.png"},
		After:  Side{Template: "after/{z}/{x}/{y}", PreviewURL: "https://img.test/after.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, imagery.SourcePreview, res.Before.Source)
	assert.Equal(t, imagery.SourcePreview, res.After.Source)
	assert.Equal(t, -1, res.After.UsedZoom)
	assert.Equal(t, 36, res.Stats.Width*res.Stats.Height)
}

func TestCompareWithoutPreviewsReturnsMosaicError(t *testing.T) {
	svc := newTestService(Deps{Loader: tileLoader(map[string]*image.NRGBA{
		"before/{z}/{x}/{y}": solid(4, 4, grey),
	})})

	_, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "before/{z}/{x}/{y}", PreviewURL: "https://img.test/before.png"},
		After:  Side{Template: "after/{z}/{x}/{y}"},
	})
	assert.ErrorIs(t, err, common.ErrTileFetch)
	assert.ErrorContains(t, err, "after:")
}

func TestCompareRenderTargetIsFatal(t *testing.T) {
	previews := 0
	loader := &mockLoader{
		LoadMosaicFn: func(context.Context, imagery.MosaicRequest) (imagery.MosaicResult, error) {
			return imagery.MosaicResult{}, fmt.Errorf("%w: canvas too large", common.ErrRenderTarget)
		},
		CropPreviewFn: func(context.Context, imagery.PreviewRequest) (imagery.MosaicResult, error) {
			previews++
			return imagery.MosaicResult{Image: solid(2, 2, grey)}, nil
		},
	}
	svc := newTestService(Deps{Loader: loader})

	_, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "a", PreviewURL: "p1"},
		After:  Side{Template: "b", PreviewURL: "p2"},
	})
	assert.ErrorIs(t, err, common.ErrRenderTarget)
	assert.Zero(t, previews)
}

func TestCompareAlignsSizes(t *testing.T) {
	svc := newTestService(Deps{Loader: tileLoader(map[string]*image.NRGBA{
		"hi": solid(8, 6, grey),
		"lo": solid(4, 3, light),
	})})

	res, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "hi"},
		After:  Side{Template: "lo"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Width)
	assert.Equal(t, 3, res.Stats.Height)
	assert.Equal(t, 4, res.BeforeImage.Bounds().Dx())
}

func TestCompareResolvesVersions(t *testing.T) {
	var templates []string
	var mu sync.Mutex
	loader := &mockLoader{
		LoadMosaicFn: func(_ context.Context, req imagery.MosaicRequest) (imagery.MosaicResult, error) {
			mu.Lock()
			templates = append(templates, req.Template)
			mu.Unlock()
			if req.Template == "v1/{z}/{x}/{y}" {
				return imagery.MosaicResult{Image: solid(2, 2, grey)}, nil
			}
			return imagery.MosaicResult{Image: solid(2, 2, light)}, nil
		},
	}
	versions := &mockVersions{VersionsFn: func(context.Context) ([]wayback.Version, error) {
		return []wayback.Version{
			{ID: 2, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), TileURLTemplate: "v2/{z}/{x}/{y}"},
			{ID: 1, Date: time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC), TileURLTemplate: "v1/{z}/{x}/{y}"},
		}, nil
	}}
	svc := newTestService(Deps{Loader: loader, Versions: versions})

	res, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{VersionID: 1},
		After:  Side{VersionID: 2},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1/{z}/{x}/{y}", "v2/{z}/{x}/{y}"}, templates)
	assert.Equal(t, "2019-08-01", res.Before.Label)
	assert.Equal(t, "2024-03-01", res.After.Label)

	_, err = svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{VersionID: 7},
		After:  Side{VersionID: 2},
	})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestCompareValidation(t *testing.T) {
	svc := newTestService(Deps{Loader: tileLoader(nil)})

	_, err := svc.Compare(context.Background(), Request{
		BBox:   geo.BBox{MinLon: 10, MinLat: 10, MaxLon: 5, MaxLat: 20},
		Before: Side{Template: "a"},
		After:  Side{Template: "b"},
	})
	assert.ErrorIs(t, err, common.ErrInvalidBBox)

	_, err = svc.Compare(context.Background(), Request{BBox: testBBox, Before: Side{Template: "a"}})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestCompareAllMasked(t *testing.T) {
	white := color.NRGBA{R: 250, G: 250, B: 250, A: 255}
	svc := newTestService(Deps{Loader: tileLoader(map[string]*image.NRGBA{
		"a": solid(4, 4, white),
		"b": solid(4, 4, white),
	})})

	_, err := svc.Compare(context.Background(), Request{
		BBox:   testBBox,
		Before: Side{Template: "a"},
		After:  Side{Template: "b"},
	})
	assert.ErrorIs(t, err, common.ErrAllPixelsMasked)
}

func TestComparePublishFailureIsNotFatal(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats down")}
	svc := newTestService(Deps{
		Loader: tileLoader(map[string]*image.NRGBA{
			"a": solid(2, 2, grey),
			"b": solid(2, 2, light),
		}),
		Publisher: pub,
	})

	_, err := svc.Compare(context.Background(), Request{BBox: testBBox, Before: Side{Template: "a"}, After: Side{Template: "b"}})
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func TestTimeline(t *testing.T) {
	var got wayback.TimelineRequest
	versions := &mockVersions{VersionsFn: func(context.Context) ([]wayback.Version, error) {
		return []wayback.Version{{ID: 2}, {ID: 1}}, nil
	}}
	timelines := &mockTimelines{BuildTimelineFn: func(_ context.Context, req wayback.TimelineRequest) (wayback.Timeline, error) {
		got = req
		return wayback.Timeline{Versions: req.Versions, SuggestedBeforeID: 1, SuggestedAfterID: 2}, nil
	}}
	svc := newTestService(Deps{Versions: versions, Timelines: timelines})

	tl, err := svc.Timeline(context.Background(), TimelineRequest{BBox: testBBox})
	require.NoError(t, err)
	assert.Equal(t, 2, tl.SuggestedAfterID)

	lon, lat := testBBox.Center()
	assert.Equal(t, geo.TileForLonLat(lon, lat, 16), got.Probe)
	assert.Equal(t, 24, got.Limit)
	assert.Equal(t, testBBox, got.BBox)
	assert.Len(t, got.Versions, 2)

	_, err = svc.Timeline(context.Background(), TimelineRequest{BBox: testBBox, Zoom: 30})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestTimelineWithoutCatalog(t *testing.T) {
	svc := newTestService(Deps{})
	_, err := svc.Timeline(context.Background(), TimelineRequest{BBox: testBBox})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestCandidates(t *testing.T) {
	target := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	at := func(days int) *time.Time {
		d := target.AddDate(0, 0, days)
		return &d
	}
	cloud := func(v float64) *float64 { return &v }

	var q catalog.Query
	cat := &mockCatalog{SearchFn: func(_ context.Context, query catalog.Query) ([]catalog.Candidate, error) {
		q = query
		return []catalog.Candidate{
			{ID: "near-cloudy", Datetime: at(1), CloudCover: cloud(80)},
			{ID: "clear", Datetime: at(-20), CloudCover: cloud(2)},
		}, nil
	}}
	svc := newTestService(Deps{Catalog: cat})

	res, err := svc.Candidates(context.Background(), CandidateRequest{BBox: testBBox, Target: target, Collection: "sentinel-2-l2a"})
	require.NoError(t, err)

	assert.Equal(t, target.AddDate(0, 0, -90), q.Start)
	assert.Equal(t, target.AddDate(0, 0, 90), q.End)
	assert.Equal(t, "sentinel-2-l2a", q.Collection)

	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, "near-cloudy", res.Selection.Closest.ID)
	assert.Equal(t, "clear", res.Selection.Chosen.ID)
	assert.Equal(t, catalog.StrategyClearest, res.Selection.Strategy)

	_, err = svc.Candidates(context.Background(), CandidateRequest{BBox: testBBox})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}
