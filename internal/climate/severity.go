package climate

import (
	"fmt"
	"math"
)

// Severity grades how unusual a value is against its climatology.
type Severity int

const (
	SeverityInsufficientData Severity = iota
	SeverityNormal
	SeverityABit
	SeverityUnusual
	SeverityExtreme
)

// Percentile thresholds. A percentile exactly on a threshold belongs to the
// more severe tier.
const (
	ExtremeLow  = 5.0
	ExtremeHigh = 95.0
	UnusualLow  = 15.0
	UnusualHigh = 85.0
	ABitLow     = 35.0
	ABitHigh    = 65.0
)

const (
	// MinCoverageYears is the history length below which severity is downgraded.
	MinCoverageYears = 30
	// MinCoverageRatio is the window completeness below which severity is downgraded.
	MinCoverageRatio = 0.5
)

func (s Severity) String() string {
	switch s {
	case SeverityInsufficientData:
		return "insufficient_data"
	case SeverityNormal:
		return "normal"
	case SeverityABit:
		return "a_bit"
	case SeverityUnusual:
		return "unusual"
	case SeverityExtreme:
		return "extreme"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(v string) (Severity, error) {
	for s := SeverityInsufficientData; s <= SeverityExtreme; s++ {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

// downgrade moves one tier toward normal. Normal and insufficient data are fixed points.
func (s Severity) downgrade() Severity {
	switch s {
	case SeverityExtreme:
		return SeverityUnusual
	case SeverityUnusual:
		return SeverityABit
	case SeverityABit:
		return SeverityNormal
	case SeverityNormal, SeverityInsufficientData:
		return s
	}
	return s
}

func rawSeverity(p float64) Severity {
	switch {
	case p <= ExtremeLow || p >= ExtremeHigh:
		return SeverityExtreme
	case p <= UnusualLow || p >= UnusualHigh:
		return SeverityUnusual
	case p <= ABitLow || p >= ABitHigh:
		return SeverityABit
	default:
		return SeverityNormal
	}
}

// ClassifySeverity grades a percentile. A nil or NaN percentile is insufficient
// data. The result drops one tier when coverageYears is below MinCoverageYears
// and another when coverageRatio is below MinCoverageRatio; a nil coverage
// argument skips its check.
func ClassifySeverity(percentile *float64, coverageYears *int, coverageRatio *float64) Severity {
	if percentile == nil || math.IsNaN(*percentile) {
		return SeverityInsufficientData
	}
	s := rawSeverity(*percentile)
	if coverageYears != nil && *coverageYears < MinCoverageYears {
		s = s.downgrade()
	}
	if coverageRatio != nil && *coverageRatio < MinCoverageRatio {
		s = s.downgrade()
	}
	return s
}

// Direction is the character of an anomaly relative to normal.
type Direction int

const (
	DirectionNeutral Direction = iota
	DirectionWarm
	DirectionCold
	DirectionWet
	DirectionDry
)

func (d Direction) String() string {
	switch d {
	case DirectionNeutral:
		return "neutral"
	case DirectionWarm:
		return "warm"
	case DirectionCold:
		return "cold"
	case DirectionWet:
		return "wet"
	case DirectionDry:
		return "dry"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(v string) (Direction, error) {
	for d := DirectionNeutral; d <= DirectionDry; d++ {
		if d.String() == v {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", v)
}

// IsPrecipitation reports whether d is a wet/dry direction.
func (d Direction) IsPrecipitation() bool {
	return d == DirectionWet || d == DirectionDry
}

// ClassifyDirection maps a percentile to warm/cold, or wet/dry for
// precipitation metrics. Exactly 50 is neutral.
func ClassifyDirection(percentile float64, m Metric) Direction {
	switch {
	case percentile > 50 && m.IsPrecipitation():
		return DirectionWet
	case percentile < 50 && m.IsPrecipitation():
		return DirectionDry
	case percentile > 50:
		return DirectionWarm
	case percentile < 50:
		return DirectionCold
	default:
		return DirectionNeutral
	}
}
