package ingest

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/lox/extremetemps/internal/models"
)

// Payload is one raw upstream body kept for the audit trail.
type Payload struct {
	Endpoint string
	Body     []byte
}

// FetchResult describes what a single source fetch returned.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
	Payloads     []Payload
}

func (r *FetchResult) addParseError(err error) {
	if r.ParseErrors == 0 {
		r.ParseError = err.Error()
	}
	r.ParseErrors++
}

func (r *FetchResult) merge(o *FetchResult) {
	if o == nil {
		return
	}
	r.HTTPStatus = o.HTTPStatus
	r.ResponseSize += o.ResponseSize
	r.RecordCount += o.RecordCount
	if r.ParseErrors == 0 {
		r.ParseError = o.ParseError
	}
	r.ParseErrors += o.ParseErrors
	r.Payloads = append(r.Payloads, o.Payloads...)
}

var gzipMagic = []byte{0x1f, 0x8b}

// decodeBody transparently gunzips bodies served as .csv.gz.
func decodeBody(body []byte) (io.Reader, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return bytes.NewReader(body), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return zr, nil
}

// csvTable reads a headed CSV and looks columns up by name.
type csvTable struct {
	r       *csv.Reader
	columns map[string]int
}

func newCSVTable(r io.Reader) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return &csvTable{r: cr, columns: cols}, nil
}

func (t *csvTable) has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

func (t *csvTable) field(rec []string, name string) string {
	i, ok := t.columns[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// number parses a numeric cell; empty or unparsable cells are null.
func number(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func nullFloat(v float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: ok}
}

// fillMidpoint sets a missing mean from the min/max midpoint.
func fillMidpoint(o *models.DailyObservation) {
	if !o.TavgC.Valid && o.TminC.Valid && o.TmaxC.Valid {
		o.TavgC = sql.NullFloat64{Float64: (o.TminC.Float64 + o.TmaxC.Float64) / 2, Valid: true}
	}
}

func hasTemperature(o models.DailyObservation) bool {
	return o.TminC.Valid || o.TmaxC.Valid
}

func inRange(d time.Time, start, end *time.Time) bool {
	if start != nil && d.Before(*start) {
		return false
	}
	if end != nil && d.After(*end) {
		return false
	}
	return true
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(models.DateLayout, s)
}
