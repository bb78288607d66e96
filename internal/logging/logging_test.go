package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		logName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "rcsimlogs",
			logName: "rcsim",
			want:    filepath.Join("rcsimlogs", "rcsim.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./rcsimlogs",
			logName: "rcsim",
			want:    filepath.Join(".", "rcsimlogs", "rcsim.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "rcsim"),
			logName: "rcsim",
			want:    filepath.Join("/var", "log", "rcsim", "rcsim.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.logName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogFile_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	f, err := OpenLogFile(dir, "rcsim", start)
	require.NoError(t, err)
	_, err = f.WriteString("line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(LogFilePath(dir, "rcsim", start))
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}

func TestOpenGraylog_InvalidAddress(t *testing.T) {
	_, err := OpenGraylog("not an address")
	assert.Error(t, err)
}

func TestNewZerolog_WritesToAll(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewZerolog("debug", &a, nil, &b)

	logger.Debug().Str("map", "default").Msg("seeded")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "seeded", entry["message"])
		assert.Equal(t, "default", entry["map"])
		assert.Contains(t, entry, "time")
	}
}

func TestNewZerolog_NoWriters(t *testing.T) {
	logger := NewZerolog("info")
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}

func TestParseZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseZerologLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, parseZerologLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseZerologLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseZerologLevel("bogus"))
}
