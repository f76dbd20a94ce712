package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"
)

// RegistryEntry is one curated station in the seed file.
type RegistryEntry struct {
	StationID  string   `json:"station_id" validate:"required,max=20"`
	Name       string   `json:"name" validate:"required"`
	Lat        float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lon        float64  `json:"lon" validate:"gte=-180,lte=180"`
	ElevationM *float64 `json:"elevation_m,omitempty"`
	WBAN       string   `json:"wban,omitempty" validate:"omitempty,max=16"`
	Active     *bool    `json:"is_active,omitempty"`
}

func (e RegistryEntry) Station() models.Station {
	st := models.Station{
		StationID: e.StationID,
		Name:      e.Name,
		Latitude:  e.Lat,
		Longitude: e.Lon,
		Active:    e.Active == nil || *e.Active,
	}
	if e.ElevationM != nil {
		st.ElevationM = sql.NullFloat64{Float64: *e.ElevationM, Valid: true}
	}
	if e.WBAN != "" {
		st.WBAN = sql.NullString{String: e.WBAN, Valid: true}
	}
	return st
}

// ParseRegistry decodes and validates a JSON station list.
func ParseRegistry(r io.Reader) ([]RegistryEntry, error) {
	var entries []RegistryEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	validate := validator.New()
	for i, e := range entries {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("registry entry %d (%s): %w", i, e.StationID, err)
		}
	}
	return entries, nil
}

func LoadRegistry(path string) ([]RegistryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return ParseRegistry(f)
}

// SeedStations upserts every registry entry and returns how many were written.
func SeedStations(s *store.Store, entries []RegistryEntry, logger *slog.Logger) (int, error) {
	for i, e := range entries {
		if err := s.UpsertStation(e.Station()); err != nil {
			return i, fmt.Errorf("upsert station %s: %w", e.StationID, err)
		}
	}
	logger.Info("ingest: seeded stations", "count", len(entries))
	return len(entries), nil
}
