package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

// RunState is the linear lifecycle of one specification run.
type RunState int

const (
	RunCreated RunState = iota
	RunBrowserLaunching
	RunRunning
	RunFinalizing
	RunDone
)

func (s RunState) String() string {
	switch s {
	case RunBrowserLaunching:
		return "browser_launching"
	case RunRunning:
		return "running"
	case RunFinalizing:
		return "finalizing"
	case RunDone:
		return "done"
	default:
		return "created"
	}
}

// RunnerConfig carries the process-level settings a run inherits.
type RunnerConfig struct {
	// DisplayAvailable is detected once at startup and injected, never read
	// ambiently during a run.
	DisplayAvailable bool
	ActionTimeout    time.Duration
	Emitter          Emitter
	NewSession       SessionFactory
}

// SpecificationRunner owns one browser session per run and aggregates the
// result tree. Scenarios execute sequentially; they share the session and
// must not race on page state.
type SpecificationRunner struct {
	cfg   RunnerConfig
	state RunState
}

func NewSpecificationRunner(cfg RunnerConfig) *SpecificationRunner {
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	if cfg.NewSession == nil {
		cfg.NewSession = func(lc browser.LaunchConfig) Session {
			return browser.NewSession(lc)
		}
	}
	return &SpecificationRunner{cfg: cfg, state: RunCreated}
}

// State returns the runner's lifecycle state.
func (r *SpecificationRunner) State() RunState { return r.state }

// Run executes the whole specification and always returns a result, even on
// panic or cancellation. The session is closed on every path.
func (r *SpecificationRunner) Run(ctx context.Context, s *spec.Specification) (res *result.Specification) {
	res = &result.Specification{
		Feature:       s.Feature,
		Configuration: s.Configuration,
		Status:        result.StatusPending,
		StartTime:     time.Now().UTC(),
	}
	r.cfg.Emitter.RunStarted(s.Feature, len(s.Scenarios))
	log.Info().
		Str("feature", s.Feature.Name).
		Int("scenarios", len(s.Scenarios)).
		Msg("starting specification run")

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("specification run panicked")
			res.Status = result.StatusFailed
			res.Error = fmt.Sprintf("internal error: %v", p)
			res.Failure = result.FailureRun
		}
		r.finalize(res)
	}()

	actionTimeout := s.Configuration.Timeout
	if actionTimeout <= 0 {
		actionTimeout = r.cfg.ActionTimeout
	}

	r.state = RunBrowserLaunching
	session := r.cfg.NewSession(browser.LaunchConfig{
		Engine:           s.Configuration.Browser,
		Headless:         s.Configuration.Headless,
		DisplayAvailable: r.cfg.DisplayAvailable,
		ActionTimeout:    actionTimeout,
	})
	defer session.Close()

	if err := session.Launch(ctx); err != nil {
		log.Error().Err(err).Msg("browser launch failed")
		res.Status = result.StatusFailed
		res.Error = err.Error()
		res.Failure = result.FailureLaunch
		return res
	}

	r.state = RunRunning
	scenarios := NewScenarioRunner(session, NewStepRunner(session), r.cfg.Emitter)

	for _, sc := range s.Scenarios {
		if err := ctx.Err(); err != nil {
			res.Error, res.Failure = runAbort(err)
			break
		}
		res.Scenarios = append(res.Scenarios, scenarios.Run(ctx, sc))
	}

	res.Summary = result.Summarize(res.Scenarios)
	if res.Error != "" {
		res.Status = result.StatusFailed
	} else {
		res.Status = result.DeriveStatus(res.Summary.Passed, res.Summary.Failed)
	}
	return res
}

func (r *SpecificationRunner) finalize(res *result.Specification) {
	r.state = RunFinalizing
	res.EndTime = time.Now().UTC()
	if res.Status == result.StatusPending {
		res.Status = result.StatusFailed
	}
	if res.Summary.PassRate == "" {
		res.Summary = result.Summarize(res.Scenarios)
	}
	if res.Status == result.StatusFailed && res.Failure == "" {
		if res.Error == "" && res.Summary.Failed > 0 {
			res.Failure = result.FailureScenario
		} else {
			res.Failure = result.FailureRun
		}
	}
	r.state = RunDone
	r.cfg.Emitter.RunFinished(res)
	log.Info().
		Str("feature", res.Feature.Name).
		Str("status", string(res.Status)).
		Str("pass_rate", res.Summary.PassRate).
		Msg("specification run finished")
}

func runAbort(err error) (string, result.FailureKind) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "run timed out before all scenarios completed", result.FailureTimeout
	}
	return "run canceled before all scenarios completed", result.FailureCanceled
}
