package result

import (
	"fmt"
	"time"

	"github.com/pomelolab/pomelo/internal/spec"
)

// Status is the outcome of a step, scenario, or whole run.
type Status string

const (
	StatusPending Status = "pending"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// ResponseStatus buckets a navigation response code.
type ResponseStatus string

const (
	ResponseOK    ResponseStatus = "OK"
	ResponseError ResponseStatus = "ERROR"
)

// BucketResponse maps an HTTP status code to OK (2xx) or ERROR.
func BucketResponse(code int) ResponseStatus {
	if code >= 200 && code < 300 {
		return ResponseOK
	}
	return ResponseError
}

// Step is the outcome of exactly one executed (or skipped-by-health) step.
type Step struct {
	Description    string         `json:"description"`
	Phase          spec.Phase     `json:"phase"`
	Status         Status         `json:"status"`
	Message        string         `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ResponseCode   *int           `json:"response_code,omitempty"`
	ResponseStatus ResponseStatus `json:"response_status,omitempty"`
}

// Scenario aggregates the step results of one scenario.
type Scenario struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Tags      []string  `json:"tags,omitempty"`
	Status    Status    `json:"status"`
	Steps     []Step    `json:"steps"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Error     string    `json:"error,omitempty"`
}

// FailureKind classifies why a whole run failed. The runner sets it where
// the failure happens; consumers never parse message text.
type FailureKind string

const (
	FailureLaunch   FailureKind = "launch_failure"
	FailureTimeout  FailureKind = "timeout"
	FailureCanceled FailureKind = "canceled"
	FailureScenario FailureKind = "scenario_failure"
	FailureRun      FailureKind = "run_failure"
)

// Summary is the scenario-level tally for a run.
type Summary struct {
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	PassRate string `json:"pass_rate"`
}

// Specification is the complete result tree for one run. It serializes
// directly to the wire format.
type Specification struct {
	Feature       spec.Feature   `json:"feature"`
	Configuration spec.RunConfig `json:"configuration"`
	Scenarios     []Scenario     `json:"scenarios"`
	Summary       Summary        `json:"summary"`
	Status        Status         `json:"status"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Error         string         `json:"error,omitempty"`
	Failure       FailureKind    `json:"failure_kind,omitempty"`
}

// DeriveStatus implements the shared derivation rule: no failures means
// passed, no passes means failed, anything else is partial.
func DeriveStatus(passed, failed int) Status {
	switch {
	case failed == 0:
		return StatusPassed
	case passed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Summarize tallies scenario outcomes. Partial scenarios count as neither
// passed nor failed, matching the pass-rate the callers display.
func Summarize(scenarios []Scenario) Summary {
	s := Summary{Total: len(scenarios)}
	for _, sc := range scenarios {
		switch sc.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.PassRate = fmt.Sprintf("%.2f%%", float64(s.Passed)/float64(s.Total)*100)
	} else {
		s.PassRate = "0%"
	}
	return s
}
