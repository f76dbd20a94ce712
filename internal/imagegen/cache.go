package imagegen

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lox/extremetemps/internal/models"
)

// DefaultMaxAge bounds how long a rendered card is served from disk.
const DefaultMaxAge = 24 * time.Hour

// CardKey identifies a rendered card. Everything the card draws is part of
// the key, so a recomputed insight never serves an image of the old numbers.
type CardKey struct {
	StationID  string
	Metric     string
	WindowDays int
	EndDate    time.Time
	Severity   string
	Direction  string
	Value      int // tenths, as drawn
	Percentile int // whole percent as drawn, -1 when absent
	Text       uint64
	SinceYear  *int
}

// KeyFor derives the cache key for an insight.
func KeyFor(in models.Insight) CardKey {
	pct := -1
	if in.Percentile != nil {
		pct = int(math.Round(*in.Percentile))
	}
	return CardKey{
		StationID:  in.StationID,
		Metric:     in.Metric,
		WindowDays: in.WindowDays,
		EndDate:    in.EndDate,
		Severity:   in.Severity,
		Direction:  in.Direction,
		Value:      int(math.Round(in.Value * 10)),
		Percentile: pct,
		Text:       textDigest(in),
		SinceYear:  in.SinceYear,
	}
}

func textDigest(in models.Insight) uint64 {
	d := xxhash.New()
	d.WriteString(in.PrimaryStatement)
	d.WriteString("\x00")
	d.WriteString(in.SupportingLine)
	d.WriteString("\x00")
	fmt.Fprintf(d, "%d/%d", in.DataQuality.CoverageYears, in.DataQuality.FirstYear)
	return d.Sum64()
}

func (k CardKey) String() string {
	since := "all"
	if k.SinceYear != nil {
		since = fmt.Sprintf("%d", *k.SinceYear)
	}
	return fmt.Sprintf("%s_%s_%dd_%s_%s_%s_v%d_p%d_%016x_%s",
		k.StationID, k.Metric, k.WindowDays, k.EndDate.Format(models.DateLayout),
		k.Severity, k.Direction, k.Value, k.Percentile, k.Text, since)
}

// filename strips anything that could escape the cache directory.
func (k CardKey) filename() string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, k.String())
	return "card_" + clean + ".png"
}

// Cache provides file-based caching for rendered insight cards.
type Cache struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
}

// NewCache creates a card cache in dir. A directory that cannot be created
// leaves the cache disabled rather than failing the server.
func NewCache(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("imagegen: cache directory unavailable", "dir", dir, "error", err)
	}
	return &Cache{dir: dir, maxAge: DefaultMaxAge, logger: logger}
}

// SetMaxAge changes how long cached cards stay fresh.
func (c *Cache) SetMaxAge(d time.Duration) {
	c.maxAge = d
}

func (c *Cache) path(key CardKey) string {
	return filepath.Join(c.dir, key.filename())
}

// Get returns a cached card if present and fresh.
func (c *Cache) Get(key CardKey) ([]byte, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > c.maxAge {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a rendered card.
func (c *Cache) Set(key CardKey, data []byte) error {
	return os.WriteFile(c.path(key), data, 0o644)
}

// Prune removes cards older than the max age and returns how many were deleted.
func (c *Cache) Prune() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= c.maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			c.logger.Warn("imagegen: prune card", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
