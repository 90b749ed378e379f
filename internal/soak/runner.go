package soak

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/llxisdsh/pb"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/slotmap"
)

// Phase names
const (
	PhaseInsert  = "insert"
	PhaseCounter = "counter"
	PhaseMixed   = "mixed"
)

// maxReported caps the mismatches kept per phase.
const maxReported = 16

// PhaseReport describes one phase of a run.
type PhaseReport struct {
	Name    string
	Ops     int
	Elapsed time.Duration
	Stats   *slotmap.MapStats
}

// Report is the outcome of a run.
type Report struct {
	KeyKind string
	Phases  []PhaseReport
}

// Run executes the three soak phases with the key type selected by
// cfg.KeyKind:
//
//   - insert: every worker inserts a disjoint share of the key space; all
//     keys must be present afterwards with the value written.
//   - counter: every worker increments one shared key cfg.Ops times under
//     its Guard; the result must equal Workers*Ops.
//   - mixed: every worker runs a random workload over its own share of
//     the keys, mirrored into a reference map; both must agree at the end.
//
// Mismatches do not stop a run. They are collected and returned together
// as a *multierror.Error after all phases finished.
func Run(ctx context.Context, cfg Config, logger *slog.Logger, metrics *Metrics) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, errors.Wrap(err, "invalid config")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.KeyKind {
	case KeyKindString:
		keys := make([]string, cfg.Keys)
		for i := range keys {
			keys[i] = "key-" + strconv.Itoa(i)
		}
		return run(ctx, cfg, keys, logger, metrics)
	case KeyKindUUID:
		keys := make([]uuid.UUID, cfg.Keys)
		for i := range keys {
			keys[i] = uuid.New()
		}
		return run(ctx, cfg, keys, logger, metrics)
	default:
		keys := make([]int, cfg.Keys)
		for i := range keys {
			keys[i] = i
		}
		return run(ctx, cfg, keys, logger, metrics)
	}
}

type runner[K comparable] struct {
	cfg     Config
	keys    []K
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	errs *multierror.Error
	// mismatches per phase
	reported map[string]int
}

func run[K comparable](
	ctx context.Context,
	cfg Config,
	keys []K,
	logger *slog.Logger,
	metrics *Metrics,
) (Report, error) {
	r := &runner[K]{
		cfg:      cfg,
		keys:     keys,
		logger:   logger,
		metrics:  metrics,
		reported: make(map[string]int),
	}
	report := Report{KeyKind: cfg.KeyKind}

	phases := []struct {
		name string
		fn   func(context.Context) (int, *slotmap.MapStats, error)
	}{
		{PhaseInsert, r.insertPhase},
		{PhaseCounter, r.counterPhase},
		{PhaseMixed, r.mixedPhase},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		ops, stats, err := p.fn(ctx)
		if err != nil {
			return report, errors.Wrapf(err, "phase %s", p.name)
		}
		pr := PhaseReport{Name: p.name, Ops: ops, Elapsed: time.Since(start), Stats: stats}
		report.Phases = append(report.Phases, pr)
		r.metrics.observe(p.name, stats)
		logger.Info("phase finished",
			"phase", p.name,
			"ops", ops,
			"elapsed", pr.Elapsed,
			"capacity", stats.Capacity,
			"size", stats.Size,
			"growths", stats.TotalGrowths,
			"compactions", stats.TotalCompactions,
			"releasedTables", stats.ReleasedTables,
			"mismatches", r.reported[p.name])
	}
	return report, r.errs.ErrorOrNil()
}

func (r *runner[K]) newMap() *slotmap.Map[K, int] {
	return slotmap.NewMap[K, int](
		slotmap.WithCapacity(r.cfg.Capacity),
		slotmap.WithMaxCapacity(r.cfg.MaxCapacity),
		slotmap.WithLogger(r.logger),
	)
}

// fail records a verification failure.
func (r *runner[K]) fail(phase string, format string, args ...any) {
	r.metrics.mismatch()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported[phase]++
	if r.reported[phase] <= maxReported {
		r.errs = multierror.Append(r.errs, errors.Errorf("%s: %s", phase, fmt.Sprintf(format, args...)))
	}
}

// share returns the keys owned by worker w.
func (r *runner[K]) share(w int) []int {
	var idx []int
	for i := w; i < len(r.keys); i += r.cfg.Workers {
		idx = append(idx, i)
	}
	return idx
}

func (r *runner[K]) insertPhase(ctx context.Context) (int, *slotmap.MapStats, error) {
	m := r.newMap()
	line := newRally(r.cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := range r.cfg.Workers {
		g.Go(func() error {
			idx := r.share(w)
			if _, err := line.meet(ctx); err != nil {
				return err
			}
			for n, i := range idx {
				if n%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				if err := m.Store(r.keys[i], i); err != nil {
					return err
				}
			}
			r.metrics.addOps(PhaseInsert, "store", len(idx))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	if size := m.Size(); size != len(r.keys) {
		r.fail(PhaseInsert, "size %d, want %d", size, len(r.keys))
	}
	for i, k := range r.keys {
		v, ok := m.Load(k)
		switch {
		case !ok:
			r.fail(PhaseInsert, "key %v lost", k)
		case v != i:
			r.fail(PhaseInsert, "key %v holds %d, want %d", k, v, i)
		}
	}
	return len(r.keys), m.Stats(), nil
}

func (r *runner[K]) counterPhase(ctx context.Context) (int, *slotmap.MapStats, error) {
	m := r.newMap()
	key := r.keys[0]
	line := newRally(r.cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for range r.cfg.Workers {
		g.Go(func() error {
			if _, err := line.meet(ctx); err != nil {
				return err
			}
			for n := range r.cfg.Ops {
				if n%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				guard, err := m.Lock(key)
				if err != nil {
					return err
				}
				*guard.Value()++
				guard.Unlock()
			}
			r.metrics.addOps(PhaseCounter, "lock", r.cfg.Ops)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	want := r.cfg.Workers * r.cfg.Ops
	if got, _ := m.Load(key); got != want {
		r.fail(PhaseCounter, "counter is %d, want %d", got, want)
	}
	return want, m.Stats(), nil
}

type opCounts struct {
	get, store, update, remove, contains int
}

func (r *runner[K]) mixedPhase(ctx context.Context) (int, *slotmap.MapStats, error) {
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	m := r.newMap()
	// one reference map per worker; key shares are disjoint, so no
	// reference map is ever touched by two goroutines
	shadows := make([]pb.MapOf[K, int], r.cfg.Workers)
	var total sync.Mutex
	var done int

	line := newRally(r.cfg.Workers)
	var g errgroup.Group
	for w := range r.cfg.Workers {
		g.Go(func() error {
			if _, err := line.meet(ctx); err != nil {
				// the duration ran out before every worker started
				return nil
			}
			counts, err := r.mixedWorker(ctx, w, m, &shadows[w])
			r.metrics.addOps(PhaseMixed, "get", counts.get)
			r.metrics.addOps(PhaseMixed, "store", counts.store)
			r.metrics.addOps(PhaseMixed, "update", counts.update)
			r.metrics.addOps(PhaseMixed, "remove", counts.remove)
			r.metrics.addOps(PhaseMixed, "contains", counts.contains)
			total.Lock()
			done += counts.get + counts.store + counts.update + counts.remove + counts.contains
			total.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	want := 0
	owner := make(map[K]int, len(r.keys))
	for w := range shadows {
		want += shadows[w].Size()
		shadows[w].Range(func(k K, v int) bool {
			owner[k] = w
			if got, ok := m.Load(k); !ok || got != v {
				r.fail(PhaseMixed, "key %v: got (%d, %t), reference %d", k, got, ok, v)
			}
			return true
		})
	}
	if got := m.Size(); got != want {
		r.fail(PhaseMixed, "size %d, reference size %d", got, want)
	}
	m.Range(func(k K, _ int) bool {
		if _, ok := owner[k]; !ok {
			r.fail(PhaseMixed, "key %v present but removed in reference", k)
		}
		return true
	})
	return done, m.Stats(), nil
}

// mixedWorker runs random operations over the keys owned by worker w,
// mirrored into the worker's own reference map. Since no other worker
// touches these keys, the reference map must agree with m after every
// single operation.
func (r *runner[K]) mixedWorker(
	ctx context.Context,
	w int,
	m *slotmap.Map[K, int],
	shadow *pb.MapOf[K, int],
) (opCounts, error) {
	var c opCounts
	idx := r.share(w)
	if len(idx) == 0 {
		return c, nil
	}
	rnd := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
	for n := range r.cfg.Ops {
		if n%256 == 0 && ctx.Err() != nil {
			// the duration ran out
			return c, nil
		}
		i := idx[rnd.IntN(len(idx))]
		k := r.keys[i]
		roll := rnd.IntN(100)
		switch {
		case roll < r.cfg.RemovePercent:
			c.remove++
			_, want := shadow.Load(k)
			if got := m.Remove(k); got != want {
				r.fail(PhaseMixed, "remove(%v) = %t, reference %t", k, got, want)
			}
			shadow.Delete(k)
		case roll < r.cfg.RemovePercent+r.cfg.LockPercent:
			c.update++
			if err := m.Update(k, func(v *int) { *v++ }); err != nil {
				return c, err
			}
			v, _ := shadow.Load(k)
			shadow.Store(k, v+1)
		default:
			switch roll % 3 {
			case 0:
				c.get++
				got, err := m.Get(k)
				if err != nil {
					return c, err
				}
				want, _ := shadow.LoadOrStore(k, 0)
				if got != want {
					r.fail(PhaseMixed, "get(%v) = %d, reference %d", k, got, want)
				}
			case 1:
				c.store++
				if err := m.Store(k, n); err != nil {
					return c, err
				}
				shadow.Store(k, n)
			default:
				c.contains++
				_, want := shadow.Load(k)
				if got := m.Contains(k); got != want {
					r.fail(PhaseMixed, "contains(%v) = %t, reference %t", k, got, want)
				}
			}
		}
	}
	return c, nil
}

// String renders a one-line summary per phase.
func (rep Report) String() string {
	s := fmt.Sprintf("key kind %s\n", rep.KeyKind)
	for _, p := range rep.Phases {
		s += fmt.Sprintf("%-8s ops=%-10d elapsed=%-12s capacity=%-8d size=%-8d growths=%d compactions=%d released=%d\n",
			p.Name, p.Ops, p.Elapsed.Round(time.Microsecond), p.Stats.Capacity, p.Stats.Size,
			p.Stats.TotalGrowths, p.Stats.TotalCompactions, p.Stats.ReleasedTables)
	}
	return s
}
