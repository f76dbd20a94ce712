package climate

import "time"

const (
	// DaysInCycle is the circumference of the day-of-year circle.
	DaysInCycle = 366

	// DefaultHalfwidth is the number of days either side of a target day-of-year
	// that contribute to climatology and seasonal rankings.
	DefaultHalfwidth = 7
)

// DayOfYear returns the 1-based ordinal day of t within its calendar year.
func DayOfYear(t time.Time) int {
	return t.YearDay()
}

// WithinWindow reports whether doy lies in the closed interval
// [target-halfwidth, target+halfwidth], wrapping across the year boundary.
func WithinWindow(doy, target, halfwidth int) bool {
	low := target - halfwidth
	high := target + halfwidth
	switch {
	case low < 1:
		return doy >= low+DaysInCycle || doy <= high
	case high > DaysInCycle:
		return doy >= low || doy <= high-DaysInCycle
	default:
		return doy >= low && doy <= high
	}
}

// CircularDistance is the shortest distance between two days-of-year.
func CircularDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if alt := DaysInCycle - d; alt < d {
		return alt
	}
	return d
}

// WithinDistance reports whether a and b are at most halfwidth days apart on the circle.
func WithinDistance(a, b, halfwidth int) bool {
	return CircularDistance(a, b) <= halfwidth
}
