package climate

import (
	"fmt"
	"strconv"

	"github.com/lox/extremetemps/internal/models"
)

// StatementInput is everything needed to describe an insight in words.
type StatementInput struct {
	WindowDays    int
	Value         float64
	Percentile    float64
	Severity      Severity
	Direction     Direction
	CoverageYears int
	FirstYear     int
	SinceYear     *int
	CurrentYear   int
	Record        *models.RecordProximity
}

// WindowLabel names a window length in prose.
func WindowLabel(days int) string {
	switch days {
	case 1:
		return "day"
	case 7:
		return "week"
	case 30:
		return "30-day period"
	case 365:
		return "year"
	default:
		return strconv.Itoa(days) + "-day period"
	}
}

// GenerateStatements returns the headline and supporting line for an insight.
// The output depends only on in.
func GenerateStatements(in StatementInput) (primary, supporting string) {
	label := WindowLabel(in.WindowDays)
	return primaryStatement(label, in), supportingLine(label, in)
}

func primaryStatement(label string, in StatementInput) string {
	if in.Record != nil && in.Record.IsNewRecord {
		return fmt.Sprintf("This %s is the %s on record.", label, in.Record.RecordType)
	}

	switch in.Severity {
	case SeverityNormal:
		return fmt.Sprintf("This %s is near normal.", label)
	case SeverityInsufficientData:
		return fmt.Sprintf("Not enough climatology data to classify this %s.", label)
	case SeverityABit:
		return fmt.Sprintf("This %s is a bit %s.", label, comparative(in.Direction))
	case SeverityUnusual, SeverityExtreme:
	}

	adverb := severityAdverb(in.Severity)
	if adverb == "" {
		return fmt.Sprintf("This %s is %s.", label, adjective(in.Direction))
	}
	return fmt.Sprintf("This %s is %s %s.", label, adverb, adjective(in.Direction))
}

func supportingLine(label string, in StatementInput) string {
	var comparison string
	switch {
	case in.Direction.IsPrecipitation() && in.Percentile <= 50:
		comparison = fmt.Sprintf("Drier than %.0f%%", 100-in.Percentile)
	case in.Direction.IsPrecipitation():
		comparison = fmt.Sprintf("Wetter than %.0f%%", in.Percentile)
	case in.Percentile <= 50:
		comparison = fmt.Sprintf("Colder than %.0f%%", 100-in.Percentile)
	default:
		comparison = fmt.Sprintf("Warmer than %.0f%%", in.Percentile)
	}

	rangeLabel := fmt.Sprintf("since %d", in.FirstYear)
	if in.SinceYear != nil {
		rangeLabel = fmt.Sprintf("%d–%d", *in.SinceYear, in.CurrentYear)
	}

	return fmt.Sprintf("%s of historical %ss (%s, %d years of data).",
		comparison, label, rangeLabel, in.CoverageYears)
}

func severityAdverb(s Severity) string {
	switch s {
	case SeverityExtreme:
		return "extremely"
	case SeverityUnusual:
		return "unusually"
	case SeverityABit, SeverityNormal, SeverityInsufficientData:
		return ""
	}
	return ""
}

func adjective(d Direction) string {
	switch d {
	case DirectionWarm:
		return "warm"
	case DirectionCold:
		return "cold"
	case DirectionWet:
		return "wet"
	case DirectionDry:
		return "dry"
	case DirectionNeutral:
		return ""
	}
	return ""
}

func comparative(d Direction) string {
	switch d {
	case DirectionWarm:
		return "warmer"
	case DirectionCold:
		return "colder"
	case DirectionWet:
		return "wetter"
	case DirectionDry:
		return "drier"
	case DirectionNeutral:
		return "different"
	}
	return "different"
}
