package ingest

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/extremetemps/internal/models"
)

const (
	DefaultCatalogHost = "ftp.ncei.noaa.gov:21"
	DefaultCatalogPath = "/pub/data/ghcn/daily/ghcnd-stations.txt"
)

var ErrNotInCatalog = errors.New("station not in catalog")

// CatalogEntry is one line of ghcnd-stations.txt.
type CatalogEntry struct {
	ID         string
	Latitude   float64
	Longitude  float64
	ElevationM *float64
	State      string
	Name       string
	WMOID      string
}

// Station converts the entry into an active station row.
func (e CatalogEntry) Station() models.Station {
	st := models.Station{
		StationID: e.ID,
		Name:      e.Name,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Active:    true,
	}
	if e.ElevationM != nil {
		st.ElevationM = sql.NullFloat64{Float64: *e.ElevationM, Valid: true}
	}
	return st
}

// slice returns line[lo:hi] trimmed, tolerating short lines.
func slice(line string, lo, hi int) string {
	if lo >= len(line) {
		return ""
	}
	return strings.TrimSpace(line[lo:min(hi, len(line))])
}

// ParseCatalogLine parses the fixed-width layout documented in the GHCN
// Daily readme (ID 1-11, LATITUDE 13-20, LONGITUDE 22-30, ELEVATION 32-37,
// STATE 39-40, NAME 42-71, WMO ID 81-85).
func ParseCatalogLine(line string) (CatalogEntry, error) {
	id := slice(line, 0, 11)
	if id == "" {
		return CatalogEntry{}, fmt.Errorf("empty station id")
	}
	lat, err := strconv.ParseFloat(slice(line, 12, 20), 64)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("%s: latitude: %w", id, err)
	}
	lon, err := strconv.ParseFloat(slice(line, 21, 30), 64)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("%s: longitude: %w", id, err)
	}
	e := CatalogEntry{
		ID:        id,
		Latitude:  lat,
		Longitude: lon,
		State:     slice(line, 38, 40),
		Name:      slice(line, 41, 71),
		WMOID:     slice(line, 80, 85),
	}
	// -999.9 marks a missing elevation.
	if elev, err := strconv.ParseFloat(slice(line, 31, 37), 64); err == nil && elev > -999 {
		e.ElevationM = &elev
	}
	return e, nil
}

// FindCatalogEntry scans the catalog for id.
func FindCatalogEntry(r io.Reader, id string) (*CatalogEntry, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, id) || slice(line, 0, 11) != id {
			continue
		}
		e, err := ParseCatalogLine(line)
		if err != nil {
			return nil, err
		}
		return &e, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInCatalog, id)
}

// Catalog reads the GHCN station list over anonymous FTP.
type Catalog struct {
	host    string
	path    string
	timeout time.Duration
}

func NewCatalog(host, path string) *Catalog {
	if host == "" {
		host = DefaultCatalogHost
	}
	if path == "" {
		path = DefaultCatalogPath
	}
	return &Catalog{host: host, path: path, timeout: 30 * time.Second}
}

// Lookup downloads the catalog and returns the entry for id.
func (c *Catalog) Lookup(ctx context.Context, id string) (*CatalogEntry, error) {
	conn, err := ftp.Dial(c.host, ftp.DialWithTimeout(c.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(c.path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	return FindCatalogEntry(resp, strings.ToUpper(strings.TrimSpace(id)))
}
