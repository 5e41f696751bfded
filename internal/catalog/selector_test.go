package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func cloud(v float64) *float64 { return &v }

var target = *day("2020-06-15")

func TestSelectClosest(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Datetime: day("2020-06-10")},
		{ID: "b", Datetime: day("2020-06-18")},
		{ID: "c", Datetime: day("2020-07-15")},
	}
	got := SelectClosest(cands, target)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestSelectClosestTieKeepsFirst(t *testing.T) {
	cands := []Candidate{
		{ID: "undated"},
		{ID: "early", Datetime: day("2020-06-12")},
		{ID: "late", Datetime: day("2020-06-18")},
	}
	got := SelectClosest(cands, target)
	require.NotNil(t, got)
	assert.Equal(t, "early", got.ID)

	reversed := []Candidate{cands[2], cands[1]}
	assert.Equal(t, "late", SelectClosest(reversed, target).ID)
}

func TestSelectClosestNone(t *testing.T) {
	assert.Nil(t, SelectClosest(nil, target))
	assert.Nil(t, SelectClosest([]Candidate{{ID: "x"}}, target))
}

func TestSelectClearestWithinWindow(t *testing.T) {
	cands := []Candidate{
		{ID: "A", Datetime: day("2020-06-10"), CloudCover: cloud(40)},
		{ID: "B", Datetime: day("2020-06-20"), CloudCover: cloud(5)},
		{ID: "C", Datetime: day("2020-09-01"), CloudCover: cloud(0)},
	}
	got := SelectClearest(cands, target, 30)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.ID)
}

func TestSelectClearestFallsBackToAll(t *testing.T) {
	cands := []Candidate{
		{ID: "A", Datetime: day("2019-01-01"), CloudCover: cloud(10)},
		{ID: "B", Datetime: day("2021-12-01"), CloudCover: cloud(2)},
	}
	got := SelectClearest(cands, target, 30)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.ID)
}

func TestSelectClearestCloudTieBrokenByOffset(t *testing.T) {
	cands := []Candidate{
		{ID: "far", Datetime: day("2020-06-01"), CloudCover: cloud(3)},
		{ID: "near", Datetime: day("2020-06-14"), CloudCover: cloud(3)},
	}
	assert.Equal(t, "near", SelectClearest(cands, target, 30).ID)
}

func TestSelectClearestFullTieIsStable(t *testing.T) {
	cands := []Candidate{
		{ID: "first", Datetime: day("2020-06-10"), CloudCover: cloud(1)},
		{ID: "second", Datetime: day("2020-06-20"), CloudCover: cloud(1)},
	}
	assert.Equal(t, "first", SelectClearest(cands, target, 30).ID)
}

func TestSelectClearestNone(t *testing.T) {
	cands := []Candidate{
		{ID: "no-cloud", Datetime: day("2020-06-10")},
		{ID: "no-date", CloudCover: cloud(0)},
	}
	assert.Nil(t, SelectClearest(cands, target, 30))
}

func TestSelectFallsBackToClosest(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Datetime: day("2020-06-01")},
		{ID: "b", Datetime: day("2020-06-16")},
	}
	sel := Select(cands, target, 30)
	require.NotNil(t, sel.Chosen)
	assert.Nil(t, sel.Clearest)
	assert.Equal(t, "b", sel.Chosen.ID)
	assert.Equal(t, StrategyClosest, sel.Strategy)

	cands = append(cands, Candidate{ID: "c", Datetime: day("2020-06-30"), CloudCover: cloud(1)})
	sel = Select(cands, target, 30)
	assert.Equal(t, "c", sel.Chosen.ID)
	assert.Equal(t, StrategyClearest, sel.Strategy)

	assert.Nil(t, Select(nil, target, 30).Chosen)
}
