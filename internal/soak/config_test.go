package soak

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	cfg.KeyKind = "float"
	cfg.RemovePercent = 70
	cfg.LockPercent = 40
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 4)
	require.Contains(t, err.Error(), "workers must be positive")
	require.Contains(t, err.Error(), `unknown key kind "float"`)
}

func TestLoad_YAMLFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soak.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
keys: 500
duration: 2s
key-kind: string
remove-percent: 10
`), 0o600))
	t.Setenv("SLOTMAP_KEYS", "700")
	t.Setenv("SLOTMAP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, 700, cfg.Keys, "environment overrides the file")
	require.Equal(t, 2*time.Second, cfg.Duration)
	require.Equal(t, KeyKindString, cfg.KeyKind)
	require.Equal(t, 10, cfg.RemovePercent)
	require.Equal(t, "debug", cfg.LogLevel)
	// untouched fields keep their defaults
	require.Equal(t, Default().Ops, cfg.Ops)
	require.Equal(t, Default().LockPercent, cfg.LockPercent)
	require.NoError(t, cfg.Validate())
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soak.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": 5, "key-kind": "uuid"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Workers)
	require.Equal(t, KeyKindUUID, cfg.KeyKind)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "soak.toml"))
	require.ErrorContains(t, err, "unsupported extension")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "error reading config file")
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
