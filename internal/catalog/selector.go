package catalog

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/batikanor/geoproof/internal/common"
)

// SelectClosest returns the dated candidate nearest to target. Ties keep the
// earliest candidate in input order. Returns nil when nothing is dated.
func SelectClosest(cands []Candidate, target time.Time) *Candidate {
	var best *Candidate
	bestDist := time.Duration(math.MaxInt64)
	for i := range cands {
		if cands[i].Datetime == nil {
			continue
		}
		dist := absDuration(cands[i].Datetime.Sub(target))
		if dist < bestDist {
			best = &cands[i]
			bestDist = dist
		}
	}
	return best
}

// SelectClearest returns the least cloudy candidate, preferring those dated
// within maxOffsetDays of target and breaking cloud ties by date distance.
// When none fall inside the window all scored candidates compete. Returns nil
// when no candidate has both a date and a cloud score.
func SelectClearest(cands []Candidate, target time.Time, maxOffsetDays float64) *Candidate {
	type scored struct {
		cand   *Candidate
		cloud  float64
		offset float64 // |dt| in days
	}

	var pool []scored
	for i := range cands {
		c := &cands[i]
		if c.Datetime == nil || c.CloudCover == nil {
			continue
		}
		pool = append(pool, scored{
			cand:   c,
			cloud:  *c.CloudCover,
			offset: math.Abs(common.DaysBetween(target, *c.Datetime)),
		})
	}
	if len(pool) == 0 {
		return nil
	}

	inWindow := lo.Filter(pool, func(s scored, _ int) bool {
		return s.offset <= maxOffsetDays
	})
	if len(inWindow) > 0 {
		pool = inWindow
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].cloud != pool[j].cloud {
			return pool[i].cloud < pool[j].cloud
		}
		return pool[i].offset < pool[j].offset
	})
	return pool[0].cand
}

// Selection reports both strategies and the one a caller should use
type Selection struct {
	Closest  *Candidate `json:"closest,omitempty"`
	Clearest *Candidate `json:"clearest,omitempty"`
	Chosen   *Candidate `json:"chosen,omitempty"`
	Strategy string     `json:"strategy,omitempty"`
}

// Selection strategies
const (
	StrategyClearest = "clearest"
	StrategyClosest  = "closest"
)

// Select prefers the clearest candidate and falls back to the closest one
func Select(cands []Candidate, target time.Time, maxOffsetDays float64) Selection {
	sel := Selection{
		Closest:  SelectClosest(cands, target),
		Clearest: SelectClearest(cands, target, maxOffsetDays),
	}
	switch {
	case sel.Clearest != nil:
		sel.Chosen, sel.Strategy = sel.Clearest, StrategyClearest
	case sel.Closest != nil:
		sel.Chosen, sel.Strategy = sel.Closest, StrategyClosest
	}
	return sel
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
