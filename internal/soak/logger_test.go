package soak

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewLogger_AutoIsJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "auto")
	logger.Info("dropped")
	logger.Warn("kept", "phase", PhaseMixed)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, PhaseMixed, rec["phase"])
}

func TestNewLogger_Dev(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "dev")
	logger.Debug("table grown", "to", 64)
	require.Contains(t, buf.String(), "table grown")
	require.Contains(t, buf.String(), "64")
}
