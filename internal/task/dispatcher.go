package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/notify"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
	"github.com/pomelolab/pomelo/internal/store"
)

const (
	// KindSpecificationRun is the task kind for browser test runs.
	KindSpecificationRun = "specification_run"

	// DefaultRunTimeout caps one run so a degenerate specification cannot
	// hang a worker indefinitely.
	DefaultRunTimeout = 5 * time.Minute
)

// RunFunc executes one specification to completion. It must honor ctx
// cancellation by force-closing its browser session and returning a failed
// result.
type RunFunc func(ctx context.Context, s *spec.Specification) *result.Specification

// Dispatcher runs specifications on background workers behind the registry.
// Each run owns its own browser session, so concurrent runs are independent.
type Dispatcher struct {
	registry Registry
	run      RunFunc
	timeout  time.Duration
	store    store.Store
	notifier notify.Notifier

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// DispatcherConfig wires the dispatcher's collaborators. Store and Notifier
// are optional.
type DispatcherConfig struct {
	Registry Registry
	Run      RunFunc
	Timeout  time.Duration
	Store    store.Store
	Notifier notify.Notifier
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunTimeout
	}
	return &Dispatcher{
		registry: cfg.Registry,
		run:      cfg.Run,
		timeout:  cfg.Timeout,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Dispatch schedules the specification on a background worker and returns
// the task id immediately.
func (d *Dispatcher) Dispatch(s *spec.Specification) string {
	rec := d.registry.Create(KindSpecificationRun, s.Feature.Name)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	d.mu.Lock()
	d.cancels[rec.ID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(rec.ID)
		d.execute(ctx, rec.ID, s)
	}()

	log.Info().Str("task_id", rec.ID).Str("feature", s.Feature.Name).Msg("run dispatched")
	return rec.ID
}

// Execute runs the specification synchronously under the dispatcher's
// timeout, still tracked in the registry.
func (d *Dispatcher) Execute(ctx context.Context, s *spec.Specification) (string, *result.Specification) {
	rec := d.registry.Create(KindSpecificationRun, s.Feature.Name)

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res := d.execute(runCtx, rec.ID, s)
	return rec.ID, res
}

func (d *Dispatcher) execute(ctx context.Context, id string, s *spec.Specification) *result.Specification {
	if err := d.registry.Update(id, StatusRunning, nil, ""); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("marking task running")
	}

	res := d.run(ctx, s)

	status := StatusCompleted
	if res.Status == result.StatusFailed {
		status = StatusFailed
	}
	if err := d.registry.Update(id, status, res, res.Error); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("recording task result")
	}

	// Persistence and notification are best effort; the result is already in
	// the registry.
	hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if d.store != nil {
		if err := d.store.Save(hookCtx, id, res); err != nil {
			log.Error().Err(err).Str("task_id", id).Msg("persisting run result")
		}
	}
	if d.notifier != nil {
		if err := d.notifier.RunFinished(hookCtx, id, res); err != nil {
			log.Error().Err(err).Str("task_id", id).Msg("notifying run completion")
		}
	}
	return res
}

// Cancel force-closes an in-flight run by canceling its context. It reports
// whether the task was still running.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	cancel, ok := d.cancels[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	log.Info().Str("task_id", id).Msg("canceling run")
	cancel()
	return true
}

// Wait blocks until all dispatched runs have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	if cancel, ok := d.cancels[id]; ok {
		cancel()
		delete(d.cancels, id)
	}
	d.mu.Unlock()
}
