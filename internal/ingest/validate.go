package ingest

import (
	"encoding/json"

	"github.com/lox/extremetemps/internal/models"
)

const (
	FlagTempOutOfRange = "temp_out_of_range"
	FlagTminAboveTmax  = "tmin_above_tmax"
	FlagPrecipNegative = "precip_negative"
	FlagPrecipUnlikely = "precip_unlikely"
	FlagNoTemperature  = "no_temperature"
)

// Plausible surface extremes, slightly wider than the observed world records.
const (
	minTempC   = -95.0
	maxTempC   = 60.0
	maxDailyMM = 2000.0
)

func tempOutOfRange(v float64) bool {
	return v < minTempC || v > maxTempC
}

// ValidateObservation returns quality flags for a parsed daily row.
func ValidateObservation(obs *models.DailyObservation) []string {
	var flags []string

	for _, t := range []struct {
		ok bool
		v  float64
	}{
		{obs.TminC.Valid, obs.TminC.Float64},
		{obs.TmaxC.Valid, obs.TmaxC.Float64},
		{obs.TavgC.Valid, obs.TavgC.Float64},
	} {
		if t.ok && tempOutOfRange(t.v) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if obs.TminC.Valid && obs.TmaxC.Valid && obs.TminC.Float64 > obs.TmaxC.Float64 {
		flags = append(flags, FlagTminAboveTmax)
	}

	if obs.PrcpMM.Valid {
		if obs.PrcpMM.Float64 < 0 {
			flags = append(flags, FlagPrecipNegative)
		} else if obs.PrcpMM.Float64 > maxDailyMM {
			flags = append(flags, FlagPrecipUnlikely)
		}
	}

	if !obs.TminC.Valid && !obs.TmaxC.Valid {
		flags = append(flags, FlagNoTemperature)
	}

	return flags
}

// rejects reports whether any flag makes the row unusable.
func rejects(flags []string) bool {
	for _, f := range flags {
		switch f {
		case FlagTempOutOfRange, FlagPrecipNegative, FlagNoTemperature:
			return true
		}
	}
	return false
}

// filterValid drops rows that fail validation and returns the first
// rejection's flags for the audit record.
func filterValid(obs []models.DailyObservation) (kept []models.DailyObservation, rejected int, firstFlags []string) {
	kept = obs[:0:0]
	for i := range obs {
		flags := ValidateObservation(&obs[i])
		if rejects(flags) {
			if rejected == 0 {
				firstFlags = flags
			}
			rejected++
			continue
		}
		kept = append(kept, obs[i])
	}
	return kept, rejected, firstFlags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
