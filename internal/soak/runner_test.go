package soak

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/llxisdsh/slotmap/internal/opt"
)

func testConfig(kind string) Config {
	cfg := Default()
	cfg.Workers = 4
	cfg.Keys = 2_000
	cfg.Ops = 5_000
	if opt.Race_ {
		cfg.Ops = 500
	}
	cfg.KeyKind = kind
	return cfg
}

func TestRun_KeyKinds(t *testing.T) {
	for _, kind := range []string{KeyKindInt, KeyKindString, KeyKindUUID} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig(kind)
			metrics := NewMetrics()
			report, err := Run(context.Background(), cfg, nil, metrics)
			require.NoError(t, err)
			require.Equal(t, kind, report.KeyKind)
			require.Len(t, report.Phases, 3)

			insert := report.Phases[0]
			require.Equal(t, PhaseInsert, insert.Name)
			require.Equal(t, cfg.Keys, insert.Stats.Size)
			require.NotZero(t, insert.Stats.TotalGrowths)
			require.Zero(t, insert.Stats.RetiredTables)

			counter := report.Phases[1]
			require.Equal(t, cfg.Workers*cfg.Ops, counter.Ops)
			require.Equal(t, 1, counter.Stats.Size)

			require.Zero(t, testutil.ToFloat64(metrics.mismatches))
			require.Equal(t, float64(cfg.Keys),
				testutil.ToFloat64(metrics.ops.WithLabelValues(PhaseInsert, "store")))
			require.Contains(t, report.String(), "mixed")
		})
	}
}

func TestRun_MixedManyWorkers(t *testing.T) {
	// more workers than keys leaves some shares empty; each worker's
	// reference map is checked against the shared map
	cfg := testConfig(KeyKindString)
	cfg.Workers = 16
	cfg.Keys = 12
	cfg.RemovePercent = 40
	metrics := NewMetrics()
	report, err := Run(context.Background(), cfg, nil, metrics)
	require.NoError(t, err)
	require.Zero(t, testutil.ToFloat64(metrics.mismatches))

	mixed := report.Phases[2]
	require.Equal(t, PhaseMixed, mixed.Name)
	require.Equal(t, cfg.Keys*cfg.Ops, mixed.Ops)
	require.LessOrEqual(t, mixed.Stats.Size, cfg.Keys)
	require.Equal(t, mixed.Stats.Size, mixed.Stats.Counter)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Keys = 0
	_, err := Run(context.Background(), cfg, nil, nil)
	require.ErrorContains(t, err, "invalid config")
}

func TestRun_CapacityExceeded(t *testing.T) {
	cfg := testConfig(KeyKindInt)
	cfg.MaxCapacity = 64
	_, err := Run(context.Background(), cfg, nil, nil)
	require.ErrorContains(t, err, "capacity exceeded")
	require.ErrorContains(t, err, PhaseInsert)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testConfig(KeyKindInt), nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_LogsPhases(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(KeyKindInt)
	cfg.Keys = 100
	cfg.Ops = 100
	_, err := Run(context.Background(), cfg, NewLogger(&buf, "debug", "json"), nil)
	require.NoError(t, err)
	out := buf.String()
	require.Equal(t, 3, strings.Count(out, `"msg":"phase finished"`))
	require.Contains(t, out, `"msg":"slotmap: table grown"`)
}

func TestMetrics_Handler(t *testing.T) {
	metrics := NewMetrics()
	cfg := testConfig(KeyKindInt)
	cfg.Keys = 100
	cfg.Ops = 100
	_, err := Run(context.Background(), cfg, nil, metrics)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, "slotmap_soak_ops_total")
	require.Contains(t, body, `slotmap_capacity{phase="insert"}`)
	require.Contains(t, body, `slotmap_size{phase="counter"} 1`)
}

func TestMetrics_ServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- NewMetrics().Serve(ctx, "127.0.0.1:0")
	}()
	cancel()
	require.NoError(t, <-errc)
}
