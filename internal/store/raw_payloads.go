package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

const payloadCompression = gzip.BestCompression

func compressPayload(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, payloadCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(b); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressPayload(b []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StoreRawPayload archives an upstream response body against its ingest run
// so a parse can be replayed later. Bodies are deduplicated by content hash;
// a body already on file returns ID 0.
func (s *Store) StoreRawPayload(runID *int64, source, endpoint string, stationID *string, payload []byte) (int64, error) {
	compressed, err := compressPayload(payload)
	if err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	sum := sha256.Sum256(payload)

	var run sql.NullInt64
	if runID != nil {
		run = sql.NullInt64{Int64: *runID, Valid: true}
	}

	res, err := s.db.Exec(`INSERT INTO raw_payloads
			(ingest_run_id, fetched_at, source, endpoint, station_id, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING`,
		run, formatTimestamp(time.Now()), source, endpoint, nullString(stationID),
		compressed, hex.EncodeToString(sum[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}
	return res.LastInsertId()
}

// GetRawPayload returns the decompressed body for a payload ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	if err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&compressed); err != nil {
		return nil, err
	}
	body, err := decompressPayload(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress payload %d: %w", id, err)
	}
	return body, nil
}

// CleanupOldRawPayloads drops archives older than retentionDays and reports
// how many went.
func (s *Store) CleanupOldRawPayloads(retentionDays int, now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`,
		formatTimestamp(now.AddDate(0, 0, -retentionDays)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
