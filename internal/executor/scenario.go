package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

// ScenarioRunner sequences one scenario's phases. Given and When stop at the
// first failure; Then always runs to completion so every validation failure
// surfaces in one pass.
type ScenarioRunner struct {
	session Session
	steps   *StepRunner
	emitter Emitter
}

func NewScenarioRunner(session Session, steps *StepRunner, emitter Emitter) *ScenarioRunner {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &ScenarioRunner{
		session: session,
		steps:   steps,
		emitter: emitter,
	}
}

// Run executes the scenario and derives its status.
func (r *ScenarioRunner) Run(ctx context.Context, sc spec.Scenario) result.Scenario {
	res := result.Scenario{
		ID:        sc.ID,
		Name:      sc.Name,
		Tags:      sc.Tags,
		Status:    result.StatusPending,
		StartTime: time.Now().UTC(),
	}
	r.emitter.ScenarioStarted(sc.ID, sc.Name)
	log.Info().Str("scenario", sc.Name).Msg("running scenario")

	defer func() {
		res.EndTime = time.Now().UTC()
		r.emitter.ScenarioFinished(res)
		log.Info().
			Str("scenario", sc.Name).
			Str("status", string(res.Status)).
			Msg("scenario finished")
	}()

	if h := r.session.Health(); h != browser.HealthOK {
		res.Status = result.StatusFailed
		res.Error = h.String()
		return res
	}

	for _, phase := range []struct {
		name  spec.Phase
		steps []spec.Step
	}{
		{spec.PhaseGiven, sc.Given},
		{spec.PhaseWhen, sc.When},
	} {
		for _, step := range phase.steps {
			sr := r.steps.Run(ctx, phase.name, step)
			res.Steps = append(res.Steps, sr)
			r.emitter.StepFinished(sc.ID, sr)
			if sr.Status != result.StatusPassed {
				res.Status = result.StatusFailed
				res.Error = failureOf(sr)
				return res
			}
		}
	}

	thenFailed := false
	for _, step := range sc.Then {
		sr := r.steps.Run(ctx, spec.PhaseThen, step)
		res.Steps = append(res.Steps, sr)
		r.emitter.StepFinished(sc.ID, sr)
		if sr.Status != result.StatusPassed {
			thenFailed = true
			if res.Error == "" {
				res.Error = failureOf(sr)
			}
		}
	}

	if thenFailed {
		res.Status = result.StatusPartial
	} else {
		res.Status = result.StatusPassed
	}
	return res
}

func failureOf(sr result.Step) string {
	if sr.Error != "" {
		return sr.Error
	}
	return sr.Message
}
