package soak

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of environment variables that override the
// config file, e.g. SLOTMAP_WORKERS=16 or SLOTMAP_KEY_KIND=uuid.
const EnvPrefix = "SLOTMAP_"

// Key kinds
const (
	KeyKindInt    = "int"
	KeyKindString = "string"
	KeyKindUUID   = "uuid"
)

// Config drives a soak run.
type Config struct {
	// Workers is the number of concurrent goroutines per phase.
	Workers int `koanf:"workers"`
	// Keys is the size of the key space.
	Keys int `koanf:"keys"`
	// Ops is the number of operations per worker in the contended and the
	// mixed phase.
	Ops int `koanf:"ops"`
	// Duration bounds the mixed phase. Zero means Ops alone bounds it.
	Duration time.Duration `koanf:"duration"`
	// KeyKind selects the key type: int, string or uuid.
	KeyKind string `koanf:"key-kind"`
	// Capacity and MaxCapacity are passed to the maps under test.
	Capacity    int `koanf:"capacity"`
	MaxCapacity int `koanf:"max-capacity"`
	// RemovePercent and LockPercent are the shares of Remove and of locked
	// updates in the mixed phase.
	RemovePercent int `koanf:"remove-percent"`
	LockPercent   int `koanf:"lock-percent"`
	// MetricsAddr, if set, is the listen address of the metrics endpoint.
	MetricsAddr string `koanf:"metrics-addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log-level"`
	// LogFormat is one of auto, text, json, dev.
	LogFormat string `koanf:"log-format"`
}

// Default returns the configuration used for unset values.
func Default() Config {
	return Config{
		Workers:       8,
		Keys:          100_000,
		Ops:           200_000,
		KeyKind:       KeyKindInt,
		RemovePercent: 20,
		LockPercent:   20,
		LogLevel:      "info",
		LogFormat:     "auto",
	}
}

// Load builds a Config from, in increasing priority: Default, the file at
// path (if not empty) and SLOTMAP_ environment variables.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}
	if err := loadEnv(k); err != nil {
		return Config{}, errors.Wrap(err, "error loading environment variables")
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "error unmarshaling config")
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := filepath.Ext(path); ext {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return errors.Errorf("config file %s: unsupported extension %q", path, ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return errors.Wrapf(err, "error reading config file %s", path)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	// SLOTMAP_REMOVE_PERCENT -> remove-percent
	return k.Load(env.ProviderWithValue(EnvPrefix, "", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(key, EnvPrefix)
		return strings.ToLower(strings.ReplaceAll(key, "_", "-")), value
	}), nil)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Workers <= 0 {
		errs = multierror.Append(errs, errors.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Keys <= 0 {
		errs = multierror.Append(errs, errors.Errorf("keys must be positive, got %d", c.Keys))
	}
	if c.Ops < 0 {
		errs = multierror.Append(errs, errors.Errorf("ops must not be negative, got %d", c.Ops))
	}
	if c.Duration < 0 {
		errs = multierror.Append(errs, errors.Errorf("duration must not be negative, got %s", c.Duration))
	}
	switch c.KeyKind {
	case KeyKindInt, KeyKindString, KeyKindUUID:
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown key kind %q", c.KeyKind))
	}
	if c.Capacity < 0 || c.MaxCapacity < 0 {
		errs = multierror.Append(errs, errors.New("capacity and max-capacity must not be negative"))
	}
	if c.RemovePercent < 0 || c.LockPercent < 0 || c.RemovePercent+c.LockPercent > 100 {
		errs = multierror.Append(errs, errors.Errorf(
			"remove-percent (%d) and lock-percent (%d) must be non-negative and sum to at most 100",
			c.RemovePercent, c.LockPercent))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = multierror.Append(errs, err)
	}
	switch c.LogFormat {
	case "auto", "text", "json", "dev":
	default:
		errs = multierror.Append(errs, errors.Errorf("unknown log format %q", c.LogFormat))
	}
	return errs.ErrorOrNil()
}
