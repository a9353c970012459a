package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

// fakeSession scripts browser behavior per operation.
type fakeSession struct {
	launchErr error
	health    browser.Health
	crashed   bool

	navigateFn func(url string) (int, error)
	navCalls   int

	fillErr  error
	clickErr error
	clicks   []string

	visible bool
	count   int
	text    string
	url     string

	closed int
}

func (s *fakeSession) Launch(context.Context) error { return s.launchErr }
func (s *fakeSession) Health() browser.Health       { return s.health }
func (s *fakeSession) Crashed() bool                { return s.crashed }

func (s *fakeSession) Navigate(_ context.Context, url string, _ spec.WaitEvent, _ time.Duration) (int, error) {
	s.navCalls++
	if s.navigateFn != nil {
		return s.navigateFn(url)
	}
	return 200, nil
}

func (s *fakeSession) Fill(context.Context, string, string) error { return s.fillErr }

func (s *fakeSession) Click(_ context.Context, locator string) error {
	s.clicks = append(s.clicks, locator)
	return s.clickErr
}

func (s *fakeSession) IsVisible(context.Context, string) (bool, error)     { return s.visible, nil }
func (s *fakeSession) Count(context.Context, string) (int, error)          { return s.count, nil }
func (s *fakeSession) TextContent(context.Context, string) (string, error) { return s.text, nil }
func (s *fakeSession) URL() string                                         { return s.url }
func (s *fakeSession) Close()                                              { s.closed++ }

func stepRunner(s *fakeSession) (*StepRunner, *[]time.Duration) {
	r := NewStepRunner(s)
	var sleeps []time.Duration
	r.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return r, &sleeps
}

func navStep(maxRetries int) spec.Step {
	return spec.Step{Action: spec.Navigate{
		URL:        "https://example.com",
		WaitUntil:  spec.WaitDOMContentLoaded,
		Timeout:    spec.DefaultNavigationTimeout,
		MaxRetries: maxRetries,
	}}
}

func TestStepHealthGate(t *testing.T) {
	s := &fakeSession{health: browser.HealthCrashed}
	r, _ := stepRunner(s)

	res := r.Run(context.Background(), spec.PhaseGiven, navStep(2))

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if s.navCalls != 0 {
		t.Errorf("navigate calls = %d, want 0", s.navCalls)
	}
	if !strings.Contains(res.Message, "crashed") {
		t.Errorf("message = %q, want health problem named", res.Message)
	}
}

func TestNavigateRetryExhaustion(t *testing.T) {
	s := &fakeSession{
		navigateFn: func(string) (int, error) { return 0, errors.New("net::ERR_CONNECTION_REFUSED") },
	}
	r, sleeps := stepRunner(s)

	res := r.Run(context.Background(), spec.PhaseGiven, navStep(2))

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if s.navCalls != 2 {
		t.Errorf("navigate attempts = %d, want exactly 2", s.navCalls)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want one 2s backoff", *sleeps)
	}
}

func TestNavigateNoRetryAfterConnectionLoss(t *testing.T) {
	s := &fakeSession{
		navigateFn: func(string) (int, error) {
			return 0, browser.Classify(errors.New("playwright: Target closed"))
		},
	}
	r, sleeps := stepRunner(s)

	res := r.Run(context.Background(), spec.PhaseGiven, navStep(3))

	if s.navCalls != 1 {
		t.Errorf("navigate attempts = %d, want 1 after connection loss", s.navCalls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
	if !strings.Contains(res.Message, "browser connection lost") {
		t.Errorf("message = %q, want connection-loss classification", res.Message)
	}
}

func TestNavigateCrashEnrichesMessage(t *testing.T) {
	s := &fakeSession{
		crashed: true,
		navigateFn: func(string) (int, error) {
			return 0, browser.Classify(errors.New("browser has been closed"))
		},
	}
	r, _ := stepRunner(s)

	res := r.Run(context.Background(), spec.PhaseGiven, navStep(2))

	if !strings.Contains(res.Message, "browser crashed") {
		t.Errorf("message = %q, want crash enrichment", res.Message)
	}
}

func TestNavigateBucketsResponseCode(t *testing.T) {
	tests := []struct {
		name string
		code int
		want result.ResponseStatus
	}{
		{"2xx", 204, result.ResponseOK},
		{"4xx", 404, result.ResponseError},
		{"5xx", 500, result.ResponseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{navigateFn: func(string) (int, error) { return tt.code, nil }}
			r, _ := stepRunner(s)

			res := r.Run(context.Background(), spec.PhaseGiven, navStep(2))

			if res.Status != result.StatusPassed {
				t.Fatalf("status = %v, want passed", res.Status)
			}
			if res.ResponseCode == nil || *res.ResponseCode != tt.code {
				t.Errorf("response code = %v, want %d", res.ResponseCode, tt.code)
			}
			if res.ResponseStatus != tt.want {
				t.Errorf("response status = %v, want %v", res.ResponseStatus, tt.want)
			}
		})
	}
}

func TestCartCountAssertions(t *testing.T) {
	tests := []struct {
		name     string
		badge    string
		expected spec.CountExpectation
		status   result.Status
		message  string
	}{
		{"gt0 with items", "3", spec.CountExpectation{AnyPositive: true}, result.StatusPassed, "cart count is 3"},
		{"gt0 empty", "0", spec.CountExpectation{AnyPositive: true}, result.StatusFailed, "count: 0"},
		{"gt0 blank badge", "", spec.CountExpectation{AnyPositive: true}, result.StatusFailed, "count: 0"},
		{"exact match", "2", spec.CountExpectation{Exact: 2}, result.StatusPassed, "matches expected: 2"},
		{"exact mismatch", "1", spec.CountExpectation{Exact: 2}, result.StatusFailed, "1 != expected 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{text: tt.badge}
			r, _ := stepRunner(s)
			step := spec.Step{Action: spec.AssertCartCount{
				Locator:  spec.DefaultCartLocator,
				Expected: tt.expected,
			}}

			res := r.Run(context.Background(), spec.PhaseThen, step)

			if res.Status != tt.status {
				t.Errorf("status = %v, want %v", res.Status, tt.status)
			}
			if !strings.Contains(res.Message, tt.message) {
				t.Errorf("message = %q, want substring %q", res.Message, tt.message)
			}
		})
	}
}

func TestAssertionComparisons(t *testing.T) {
	tests := []struct {
		name    string
		session *fakeSession
		action  spec.Action
		status  result.Status
	}{
		{"visible", &fakeSession{visible: true}, spec.AssertVisible{Locator: "#x"}, result.StatusPassed},
		{"not visible", &fakeSession{visible: false}, spec.AssertVisible{Locator: "#x"}, result.StatusFailed},
		{"exists", &fakeSession{count: 2}, spec.AssertExists{Locator: ".item"}, result.StatusPassed},
		{"missing", &fakeSession{count: 0}, spec.AssertExists{Locator: ".item"}, result.StatusFailed},
		{"text substring", &fakeSession{text: "Results for laptop"}, spec.AssertTextContains{Locator: "h1", Expected: "laptop"}, result.StatusPassed},
		{"text mismatch", &fakeSession{text: "No results"}, spec.AssertTextContains{Locator: "h1", Expected: "laptop"}, result.StatusFailed},
		{"url substring", &fakeSession{url: "https://shop.test/cart?x=1"}, spec.AssertURLContains{Expected: "/cart"}, result.StatusPassed},
		{"url mismatch", &fakeSession{url: "https://shop.test/home"}, spec.AssertURLContains{Expected: "/cart"}, result.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := stepRunner(tt.session)

			res := r.Run(context.Background(), spec.PhaseThen, spec.Step{Action: tt.action})

			if res.Status != tt.status {
				t.Errorf("status = %v, want %v", res.Status, tt.status)
			}
		})
	}
}

func TestThenStepTrailingClick(t *testing.T) {
	s := &fakeSession{visible: true}
	r, _ := stepRunner(s)
	step := spec.Step{
		Action:   spec.AssertVisible{Locator: "#add-to-cart"},
		FollowUp: &spec.Click{Locator: "#add-to-cart"},
	}

	res := r.Run(context.Background(), spec.PhaseThen, step)

	if res.Status != result.StatusPassed {
		t.Errorf("status = %v, want passed", res.Status)
	}
	if len(s.clicks) != 1 || s.clicks[0] != "#add-to-cart" {
		t.Errorf("clicks = %v, want trailing click on #add-to-cart", s.clicks)
	}
}

func TestThenStepTrailingClickFailure(t *testing.T) {
	s := &fakeSession{visible: true, clickErr: errors.New("element detached")}
	r, _ := stepRunner(s)
	step := spec.Step{
		Action:   spec.AssertVisible{Locator: "#add-to-cart"},
		FollowUp: &spec.Click{Locator: "#add-to-cart"},
	}

	res := r.Run(context.Background(), spec.PhaseThen, step)

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed when trailing click errors", res.Status)
	}
}

func scenarioRunner(s *fakeSession) *ScenarioRunner {
	steps, _ := stepRunner(s)
	return NewScenarioRunner(s, steps, nil)
}

func TestScenarioGivenShortCircuits(t *testing.T) {
	s := &fakeSession{
		navigateFn: func(string) (int, error) { return 0, errors.New("boom") },
	}
	r := scenarioRunner(s)
	sc := spec.Scenario{
		Name:  "checkout",
		Given: []spec.Step{navStep(1)},
		When:  []spec.Step{{Action: spec.Click{Locator: "#buy"}}},
		Then:  []spec.Step{{Action: spec.AssertVisible{Locator: "#ok"}}},
	}

	res := r.Run(context.Background(), sc)

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if len(res.Steps) != 1 {
		t.Errorf("steps executed = %d, want 1 (When/Then never run)", len(res.Steps))
	}
	if len(s.clicks) != 0 {
		t.Errorf("clicks = %v, want none", s.clicks)
	}
	if res.Error == "" {
		t.Error("scenario error not set on short-circuit")
	}
}

func TestScenarioWhenShortCircuits(t *testing.T) {
	s := &fakeSession{fillErr: errors.New("no such element")}
	r := scenarioRunner(s)
	sc := spec.Scenario{
		Name:  "search",
		Given: []spec.Step{navStep(1)},
		When: []spec.Step{
			{Action: spec.Fill{Locator: "#q", Text: "laptop"}},
			{Action: spec.Click{Locator: "#go"}},
		},
		Then: []spec.Step{{Action: spec.AssertVisible{Locator: "#results"}}},
	}

	res := r.Run(context.Background(), sc)

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Errorf("steps executed = %d, want 2 (Then never runs)", len(res.Steps))
	}
}

func TestScenarioThenRunsAllAndReportsPartial(t *testing.T) {
	s := &fakeSession{visible: false, count: 1}
	r := scenarioRunner(s)
	sc := spec.Scenario{
		Name:  "validation",
		Given: []spec.Step{navStep(1)},
		Then: []spec.Step{
			{Action: spec.AssertVisible{Locator: "#banner"}},
			{Action: spec.AssertExists{Locator: ".row"}},
		},
	}

	res := r.Run(context.Background(), sc)

	if res.Status != result.StatusPartial {
		t.Errorf("status = %v, want partial", res.Status)
	}
	if len(res.Steps) != 3 {
		t.Errorf("steps executed = %d, want 3 (all Then steps run)", len(res.Steps))
	}
	last := res.Steps[2]
	if last.Status != result.StatusPassed {
		t.Errorf("second Then step status = %v, want passed", last.Status)
	}
}

func TestScenarioUnhealthySessionRunsNothing(t *testing.T) {
	s := &fakeSession{health: browser.HealthDisconnected}
	r := scenarioRunner(s)
	sc := spec.Scenario{Name: "x", Given: []spec.Step{navStep(1)}}

	res := r.Run(context.Background(), sc)

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if len(res.Steps) != 0 {
		t.Errorf("steps executed = %d, want 0", len(res.Steps))
	}
}

func specRunner(s *fakeSession) *SpecificationRunner {
	r := NewSpecificationRunner(RunnerConfig{
		NewSession: func(browser.LaunchConfig) Session { return s },
	})
	return r
}

func passingSpec() *spec.Specification {
	return &spec.Specification{
		Feature: spec.Feature{Name: "Product Search"},
		Configuration: spec.RunConfig{
			Browser:  spec.EngineChromium,
			Headless: true,
			Timeout:  spec.DefaultActionTimeout,
		},
		Scenarios: []spec.Scenario{
			{
				Name:  "search returns results",
				Given: []spec.Step{navStep(2)},
				When: []spec.Step{
					{Action: spec.Fill{Locator: "#search", Text: "laptop"}},
					{Action: spec.Click{Locator: "#search-btn"}},
				},
				Then: []spec.Step{
					{Action: spec.AssertVisible{Locator: ".results"}},
					{Action: spec.AssertURLContains{Expected: "q=laptop"}},
				},
			},
		},
	}
}

func TestRunFullSpecificationPasses(t *testing.T) {
	s := &fakeSession{visible: true, url: "https://shop.test/search?q=laptop"}
	res := specRunner(s).Run(context.Background(), passingSpec())

	if res.Status != result.StatusPassed {
		t.Fatalf("status = %v, want passed (error: %s)", res.Status, res.Error)
	}
	if res.Summary.PassRate != "100.00%" {
		t.Errorf("pass rate = %q, want 100.00%%", res.Summary.PassRate)
	}
	if res.Summary.Total != 1 || res.Summary.Passed != 1 || res.Summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1/1/0", res.Summary)
	}
	if s.closed != 1 {
		t.Errorf("session close calls = %d, want 1", s.closed)
	}
	if res.EndTime.Before(res.StartTime) {
		t.Error("end time precedes start time")
	}
}

func TestRunLaunchFailure(t *testing.T) {
	s := &fakeSession{launchErr: &browser.LaunchError{Err: errors.New("driver missing")}}
	res := specRunner(s).Run(context.Background(), passingSpec())

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if len(res.Scenarios) != 0 {
		t.Errorf("scenarios executed = %d, want 0", len(res.Scenarios))
	}
	if !strings.Contains(res.Error, "browser launch failed") {
		t.Errorf("error = %q, want launch error attached", res.Error)
	}
	if res.Failure != result.FailureLaunch {
		t.Errorf("failure kind = %q, want launch_failure", res.Failure)
	}
	if s.closed != 1 {
		t.Errorf("session close calls = %d, want 1", s.closed)
	}
	if res.Summary.PassRate != "0%" {
		t.Errorf("pass rate = %q, want 0%% for empty run", res.Summary.PassRate)
	}
}

func TestRunStatusDerivation(t *testing.T) {
	tests := []struct {
		name           string
		passed, failed int
		want           result.Status
	}{
		{"all passed", 2, 0, result.StatusPassed},
		{"all failed", 0, 2, result.StatusFailed},
		{"mixed", 1, 1, result.StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scenarios []result.Scenario
			for i := 0; i < tt.passed; i++ {
				scenarios = append(scenarios, result.Scenario{Status: result.StatusPassed})
			}
			for i := 0; i < tt.failed; i++ {
				scenarios = append(scenarios, result.Scenario{Status: result.StatusFailed})
			}
			sum := result.Summarize(scenarios)
			if got := result.DeriveStatus(sum.Passed, sum.Failed); got != tt.want {
				t.Errorf("DeriveStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunCanceledContextStopsScenarios(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &fakeSession{visible: true}
	res := specRunner(s).Run(ctx, passingSpec())

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if len(res.Scenarios) != 0 {
		t.Errorf("scenarios executed = %d, want 0", len(res.Scenarios))
	}
	if !strings.Contains(res.Error, "canceled") {
		t.Errorf("error = %q, want cancellation reported", res.Error)
	}
	if res.Failure != result.FailureCanceled {
		t.Errorf("failure kind = %q, want canceled", res.Failure)
	}
	if s.closed != 1 {
		t.Errorf("session close calls = %d, want 1", s.closed)
	}
}

func TestRunDeadlineReportsTimeoutKind(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := specRunner(&fakeSession{}).Run(ctx, passingSpec())

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if res.Failure != result.FailureTimeout {
		t.Errorf("failure kind = %q, want timeout", res.Failure)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want timeout reported", res.Error)
	}
}

func TestRunScenarioFailureKind(t *testing.T) {
	s := &fakeSession{
		navigateFn: func(string) (int, error) { return 0, errors.New("net::ERR_CONNECTION_REFUSED") },
	}
	sp := &spec.Specification{
		Feature:   spec.Feature{Name: "Search"},
		Scenarios: []spec.Scenario{{Name: "load", Given: []spec.Step{navStep(1)}}},
	}
	res := specRunner(s).Run(context.Background(), sp)

	if res.Status != result.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Error != "" {
		t.Errorf("error = %q, want empty for a scenario-level failure", res.Error)
	}
	if res.Failure != result.FailureScenario {
		t.Errorf("failure kind = %q, want scenario_failure", res.Failure)
	}
}

func TestRunClosesSessionOnPanic(t *testing.T) {
	s := &fakeSession{}
	r := NewSpecificationRunner(RunnerConfig{
		NewSession: func(browser.LaunchConfig) Session { return s },
		Emitter:    panicEmitter{},
	})

	res := r.Run(context.Background(), passingSpec())

	if res.Status != result.StatusFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "internal error") {
		t.Errorf("error = %q, want panic converted", res.Error)
	}
	if res.Failure != result.FailureRun {
		t.Errorf("failure kind = %q, want run_failure", res.Failure)
	}
	if s.closed != 1 {
		t.Errorf("session close calls = %d, want 1", s.closed)
	}
}

// panicEmitter simulates an unexpected failure escaping scenario execution.
type panicEmitter struct{ NopEmitter }

func (panicEmitter) ScenarioStarted(string, string) { panic("emitter exploded") }
