package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/odavlstudio/insight/internal/config"
	"github.com/odavlstudio/insight/internal/detector"
	"github.com/odavlstudio/insight/internal/detector/builtin"
	"github.com/odavlstudio/insight/internal/diagnostics"
	"github.com/odavlstudio/insight/internal/errstore"
	"github.com/odavlstudio/insight/internal/events"
	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/pool"
	"github.com/odavlstudio/insight/internal/protocol"
)

// detectorResult summarizes one detector run for the report.
type detectorResult struct {
	Detector   string
	Issues     int
	DurationMs int64
	Failed     bool
	Code       protocol.Code
	Message    string
}

// engine owns the worker pool and its error store for one CLI invocation.
// Watch mode reuses the same pool across runs.
type engine struct {
	pool      *pool.Pool
	store     *errstore.Store
	bus       *events.Bus
	logger    *logging.Logger
	detectors []string
	options   map[string]map[string]any
}

// newEngine validates the detector selection and starts the pool. Workers
// spawn as child processes of the current binary.
func newEngine(cfg *config.Config, logger *logging.Logger, selected []string) (*engine, error) {
	registry := detector.NewRegistry()
	builtin.RegisterAll(registry)

	if len(selected) == 0 {
		selected = cfg.Detectors.Enabled
	}
	if len(selected) == 0 {
		selected = registry.List()
	}
	for _, name := range selected {
		if !registry.Has(name) {
			return nil, unknownDetectorError(name, registry.List())
		}
	}
	sort.Strings(selected)

	for _, warning := range diagnostics.PreflightWarnings(float64(cfg.Pool.MinAvailableMB)) {
		logger.Warn(warning)
	}

	taskTimeout, shutdownGrace, err := config.PoolDurations(&cfg.Pool)
	if err != nil {
		return nil, err
	}

	store := errstore.New()
	bus := events.New(256)

	spawn := pool.NewSpawner(pool.ProcOptions{
		Verbose:   verbose,
		KillGrace: shutdownGrace,
		Logger:    logger,
	})

	p, err := pool.New(pool.Config{
		Size:          cfg.Pool.Size,
		TaskTimeout:   taskTimeout,
		ShutdownGrace: shutdownGrace,
		MemoryLimitMB: cfg.Pool.MemoryLimitMB,
	}, logger, store, bus, spawn)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("starting worker pool: %w", err)
	}

	e := &engine{
		pool:      p,
		store:     store,
		bus:       bus,
		logger:    logger,
		detectors: selected,
		options:   cfg.Detectors.Options,
	}
	e.watchFailures()
	return e, nil
}

// run executes every selected detector against the workspace and waits for
// all of them to reach a terminal message. The error store is cleared first
// so watch-mode reruns report only the current state.
func (e *engine) run(ctx context.Context, workspace string) ([]detectorResult, error) {
	e.store.Clear()

	handles := make([]*pool.TaskHandle, 0, len(e.detectors))
	for _, name := range e.detectors {
		handles = append(handles, e.pool.Submit(pool.Task{
			Detector:  name,
			Workspace: workspace,
			Options:   e.options[name],
		}))
	}

	results := make([]detectorResult, len(handles))
	g, ctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		g.Go(func() error {
			res := detectorResult{Detector: h.Task.Detector}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg, ok := <-h.Events():
					if !ok {
						results[i] = res
						return nil
					}
					switch m := msg.(type) {
					case protocol.Issue:
						res.Issues++
					case protocol.Complete:
						res.Issues = m.IssuesCount
						res.DurationMs = m.DurationMs
					case protocol.Error:
						res.Failed = true
						res.Code = m.Code
						res.Message = m.Message
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// shutdown drains the pool within its grace window.
func (e *engine) shutdown(ctx context.Context) {
	if err := e.pool.Shutdown(ctx); err != nil {
		e.logger.Warn("pool shutdown", "error", err)
	}
	e.bus.Close()
}

// watchEvents logs lifecycle events until the bus closes. Used by verbose
// mode so worker churn is visible without attaching a debugger.
func (e *engine) watchEvents() {
	ch := e.bus.Subscribe()
	go func() {
		for ev := range ch {
			if w := ev.Worker(); w != "" {
				e.logger.Debug(ev.EventType(), "worker", w)
			} else {
				e.logger.Debug(ev.EventType())
			}
		}
	}()
}

// watchFailures surfaces crash, timeout, and task-failure events on a
// priority subscription, which the bus never drops under load. Runs until
// the bus closes.
func (e *engine) watchFailures() {
	ch := e.bus.SubscribePriority()
	go func() {
		for ev := range ch {
			switch ev.EventType() {
			case events.TypeWorkerCrashed, events.TypeWorkerTimeout, events.TypeTaskFailed:
				e.logger.Warn(ev.EventType(), "worker", ev.Worker())
			default:
				e.logger.Debug(ev.EventType())
			}
		}
	}()
}

// unknownDetectorError builds an error with a fuzzy "did you mean"
// suggestion against the registered detector names.
func unknownDetectorError(name string, known []string) error {
	matches := fuzzy.Find(name, known)
	if len(matches) > 0 {
		return fmt.Errorf("unknown detector %q (did you mean %q?)", name, matches[0].Str)
	}
	return fmt.Errorf("unknown detector %q (available: %s)", name, strings.Join(known, ", "))
}
