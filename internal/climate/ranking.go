package climate

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrInsufficientRankingYears means the period being ranked has no
	// qualifying value of its own.
	ErrInsufficientRankingYears = errors.New("insufficient data for ranking")
	// ErrInvalidDirection means an extremes ranking was asked for something
	// other than cold or warm.
	ErrInvalidDirection = errors.New("direction must be cold or warm")
)

// RankingMode selects the ranking algorithm.
type RankingMode string

const (
	RankingSeasonal RankingMode = "seasonal"
	RankingExtremes RankingMode = "extremes"
)

// RankingEntry is one year's value within a ranking.
type RankingEntry struct {
	Rank      int
	Year      int
	ValueC    float64
	ValueF    float64
	DeltaF    float64
	IsCurrent bool
	StartDate time.Time // extremes mode only
	EndDate   time.Time // extremes mode only
}

// Ranking is the ordered comparison of every year against the current one.
type Ranking struct {
	Mode        RankingMode
	Entries     []RankingEntry
	CurrentRank int
	TotalYears  int
	Direction   Direction
}

// RankingParams describes the period being ranked.
type RankingParams struct {
	EndDate    time.Time
	WindowDays int
	Halfwidth  int
	SinceYear  *int
}

func (p RankingParams) prepare(s Series) (Series, int) {
	if p.SinceYear != nil {
		s = s.Since(*p.SinceYear)
	}
	return s.Rolling(p.WindowDays), DayOfYear(p.EndDate)
}

// SeasonalRanking compares the window ending on the same calendar date in every
// year. Each year contributes its value closest to the target day-of-year within
// the halfwidth, earliest first on ties. The sort direction follows where the
// current year falls: at or below the median ranks coldest first.
func SeasonalRanking(s Series, p RankingParams) (*Ranking, error) {
	rolled, target := p.prepare(s)
	currentYear := p.EndDate.Year()

	type pick struct {
		year int
		dist int
		val  float64
	}
	var picks []pick
	for _, pt := range rolled {
		d := CircularDistance(DayOfYear(pt.Date), target)
		if d > p.Halfwidth {
			continue
		}
		y := pt.Date.Year()
		if n := len(picks); n > 0 && picks[n-1].year == y {
			if d < picks[n-1].dist {
				picks[n-1] = pick{year: y, dist: d, val: pt.Value}
			}
			continue
		}
		picks = append(picks, pick{year: y, dist: d, val: pt.Value})
	}

	entries := make([]RankingEntry, 0, len(picks))
	for _, pk := range picks {
		entries = append(entries, RankingEntry{Year: pk.year, ValueC: round(pk.val, 2)})
	}

	current, ok := findYear(entries, currentYear)
	if !ok {
		return nil, fmt.Errorf("seasonal ranking for %d: %w", currentYear, ErrInsufficientRankingYears)
	}

	below := 0
	for _, e := range entries {
		if e.ValueC < current.ValueC {
			below++
		}
	}
	pct := float64(below) / float64(len(entries)) * 100

	dir := DirectionWarm
	if pct <= 50 {
		dir = DirectionCold
	}
	return finishRanking(RankingSeasonal, entries, dir, currentYear), nil
}

// ExtremesRanking compares the most extreme window inside the seasonal
// day-of-year range of every year: the minimum for cold, the maximum for warm.
func ExtremesRanking(s Series, p RankingParams, dir Direction) (*Ranking, error) {
	if dir != DirectionCold && dir != DirectionWarm {
		return nil, ErrInvalidDirection
	}
	rolled, target := p.prepare(s)
	currentYear := p.EndDate.Year()

	var entries []RankingEntry
	for _, pt := range rolled {
		if !WithinDistance(DayOfYear(pt.Date), target, p.Halfwidth) {
			continue
		}
		y := pt.Date.Year()
		if n := len(entries); n > 0 && entries[n-1].Year == y {
			last := &entries[n-1]
			if (dir == DirectionCold && pt.Value < last.ValueC) || (dir == DirectionWarm && pt.Value > last.ValueC) {
				last.ValueC = pt.Value
				last.EndDate = pt.Date
			}
			continue
		}
		entries = append(entries, RankingEntry{Year: y, ValueC: pt.Value, EndDate: pt.Date})
	}
	for i := range entries {
		entries[i].ValueC = round(entries[i].ValueC, 2)
		entries[i].StartDate = WindowStart(entries[i].EndDate, p.WindowDays)
	}

	if _, ok := findYear(entries, currentYear); !ok {
		return nil, fmt.Errorf("extremes ranking for %d: %w", currentYear, ErrInsufficientRankingYears)
	}
	return finishRanking(RankingExtremes, entries, dir, currentYear), nil
}

// finishRanking sorts entries coldest or warmest first and fills ranks and
// Fahrenheit deltas relative to the current year.
func finishRanking(mode RankingMode, entries []RankingEntry, dir Direction, currentYear int) *Ranking {
	slices.SortStableFunc(entries, func(a, b RankingEntry) int {
		if dir == DirectionCold {
			return cmp.Compare(a.ValueC, b.ValueC)
		}
		return cmp.Compare(b.ValueC, a.ValueC)
	})

	current, _ := findYear(entries, currentYear)
	currentF := CelsiusToFahrenheit(current.ValueC)

	r := &Ranking{Mode: mode, Entries: entries, TotalYears: len(entries), Direction: dir}
	for i := range entries {
		e := &entries[i]
		e.Rank = i + 1
		e.ValueF = CelsiusToFahrenheit(e.ValueC)
		e.DeltaF = round(e.ValueF-currentF, 1)
		e.IsCurrent = e.Year == currentYear
		if e.IsCurrent {
			r.CurrentRank = e.Rank
		}
	}
	return r
}

func findYear(entries []RankingEntry, year int) (RankingEntry, bool) {
	for _, e := range entries {
		if e.Year == year {
			return e, true
		}
	}
	return RankingEntry{}, false
}
