package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

const navigateBackoff = 2 * time.Second

// StepRunner executes one step at a time against a live session. Every
// outcome, including health-gate refusals, becomes exactly one result.Step;
// errors never propagate past it.
type StepRunner struct {
	session Session
	sleep   func(time.Duration)
}

func NewStepRunner(session Session) *StepRunner {
	return &StepRunner{
		session: session,
		sleep:   time.Sleep,
	}
}

// Run executes the step and classifies its outcome.
func (r *StepRunner) Run(ctx context.Context, phase spec.Phase, step spec.Step) result.Step {
	res := result.Step{
		Description: step.Describe(),
		Phase:       phase,
		Status:      result.StatusFailed,
		Timestamp:   time.Now().UTC(),
	}

	if h := r.session.Health(); h != browser.HealthOK {
		res.Error = h.String()
		res.Message = "step not attempted: " + h.String()
		log.Warn().Str("step", res.Description).Str("health", h.String()).Msg("skipping step, session unhealthy")
		return res
	}

	log.Debug().Str("phase", string(phase)).Str("step", res.Description).Msg("executing step")

	switch a := step.Action.(type) {
	case spec.Navigate:
		r.navigate(ctx, a, &res)
	case spec.Fill:
		if err := r.session.Fill(ctx, a.Locator, a.Text); err != nil {
			r.fail(&res, err, "filling "+a.Locator)
		} else {
			r.pass(&res, fmt.Sprintf("filled %s", a.Locator))
		}
	case spec.Click:
		if err := r.session.Click(ctx, a.Locator); err != nil {
			r.fail(&res, err, "clicking "+a.Locator)
		} else {
			r.pass(&res, fmt.Sprintf("clicked %s", a.Locator))
		}
	case spec.AssertVisible:
		r.assertVisible(ctx, a, &res)
	case spec.AssertExists:
		r.assertExists(ctx, a, &res)
	case spec.AssertCartCount:
		r.assertCartCount(ctx, a, &res)
	case spec.AssertTextContains:
		r.assertTextContains(ctx, a, &res)
	case spec.AssertURLContains:
		r.assertURLContains(a, &res)
	default:
		res.Message = fmt.Sprintf("unsupported step type %q", step.Action.Type())
		res.Error = res.Message
	}

	if step.FollowUp != nil && res.Status == result.StatusPassed {
		if err := r.session.Click(ctx, step.FollowUp.Locator); err != nil {
			r.fail(&res, err, "clicking "+step.FollowUp.Locator)
		} else {
			res.Message += fmt.Sprintf(", then clicked %s", step.FollowUp.Locator)
		}
	}

	return res
}

// navigate retries transient failures with a fixed backoff. A lost browser
// connection aborts immediately: retrying a dead browser is pointless.
func (r *StepRunner) navigate(ctx context.Context, a spec.Navigate, res *result.Step) {
	attempts := a.MaxRetries
	if attempts <= 0 {
		attempts = spec.DefaultNavigationRetries
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = spec.DefaultNavigationTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		code, err := r.session.Navigate(ctx, a.URL, a.WaitUntil, timeout)
		if err == nil {
			r.pass(res, "navigated to "+a.URL)
			if code > 0 {
				c := code
				res.ResponseCode = &c
				res.ResponseStatus = result.BucketResponse(code)
				res.Message = fmt.Sprintf("navigated to %s (status %d)", a.URL, code)
			}
			return
		}
		lastErr = err
		if browser.IsConnectionLost(err) {
			break
		}
		log.Warn().Err(err).
			Str("url", a.URL).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("navigation failed")
		if attempt < attempts {
			r.sleep(navigateBackoff)
		}
	}
	r.fail(res, lastErr, "navigating to "+a.URL)
}

func (r *StepRunner) assertVisible(ctx context.Context, a spec.AssertVisible, res *result.Step) {
	visible, err := r.session.IsVisible(ctx, a.Locator)
	if err != nil {
		r.fail(res, err, "checking visibility of "+a.Locator)
		return
	}
	if visible {
		r.pass(res, fmt.Sprintf("element %s is visible", a.Locator))
	} else {
		res.Message = fmt.Sprintf("element %s is not visible", a.Locator)
	}
}

func (r *StepRunner) assertExists(ctx context.Context, a spec.AssertExists, res *result.Step) {
	count, err := r.session.Count(ctx, a.Locator)
	if err != nil {
		r.fail(res, err, "counting "+a.Locator)
		return
	}
	if count > 0 {
		r.pass(res, fmt.Sprintf("element %s exists (%d found)", a.Locator, count))
	} else {
		res.Message = fmt.Sprintf("element %s does not exist", a.Locator)
	}
}

func (r *StepRunner) assertCartCount(ctx context.Context, a spec.AssertCartCount, res *result.Step) {
	text, err := r.session.TextContent(ctx, a.Locator)
	if err != nil {
		r.fail(res, err, "reading cart count from "+a.Locator)
		return
	}
	count := parseCount(text)

	switch {
	case a.Expected.Matches(count):
		if a.Expected.AnyPositive {
			r.pass(res, fmt.Sprintf("cart count is %d (> 0)", count))
		} else {
			r.pass(res, fmt.Sprintf("cart count matches expected: %d", count))
		}
	case a.Expected.AnyPositive:
		res.Message = fmt.Sprintf("cart is empty (count: %d)", count)
	default:
		res.Message = fmt.Sprintf("cart count %d != expected %d", count, a.Expected.Exact)
	}
}

func (r *StepRunner) assertTextContains(ctx context.Context, a spec.AssertTextContains, res *result.Step) {
	actual, err := r.session.TextContent(ctx, a.Locator)
	if err != nil {
		r.fail(res, err, "reading text of "+a.Locator)
		return
	}
	if strings.Contains(actual, a.Expected) {
		r.pass(res, fmt.Sprintf("text matches: %s", a.Expected))
	} else {
		res.Message = fmt.Sprintf("text mismatch, expected %q, got %q", a.Expected, actual)
	}
}

func (r *StepRunner) assertURLContains(a spec.AssertURLContains, res *result.Step) {
	current := r.session.URL()
	if strings.Contains(current, a.Expected) {
		r.pass(res, fmt.Sprintf("url contains %q: %s", a.Expected, current))
	} else {
		res.Message = fmt.Sprintf("url does not contain %q, current url: %s", a.Expected, current)
	}
}

func (r *StepRunner) pass(res *result.Step, msg string) {
	res.Status = result.StatusPassed
	res.Message = msg
}

// fail records an execution error, distinguishing a dead browser from a
// step-local failure so aggregation can tell the environment died.
func (r *StepRunner) fail(res *result.Step, err error, action string) {
	res.Status = result.StatusFailed
	res.Error = err.Error()
	if browser.IsConnectionLost(err) {
		res.Message = "browser connection lost: the page, context, or browser was closed during execution"
		if r.session.Crashed() {
			res.Message += " (browser crashed, possibly due to memory pressure or page complexity)"
		}
		return
	}
	res.Message = action + ": " + err.Error()
}

// parseCount reads a numeric badge value. Empty or non-numeric text counts
// as zero, matching an empty cart badge.
func parseCount(text string) int {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0
	}
	return n
}
