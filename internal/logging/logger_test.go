package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("ingest: station failed", "station", "USW00014739")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ingest: station failed", rec["msg"])
	assert.Equal(t, "USW00014739", rec["station"])
}

func TestNewWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "info", "text")
	require.NoError(t, err)
	logger.Info("scheduler: started")
	assert.Contains(t, buf.String(), "scheduler: started")
}

func TestNewWriter_BadFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
