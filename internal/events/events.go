package events

import (
	"sync"
	"time"

	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

// Event types for structured progress output.
const (
	EventRunStart      = "run_start"
	EventRunEnd        = "run_end"
	EventScenarioStart = "scenario_start"
	EventScenarioEnd   = "scenario_end"
	EventStepEnd       = "step_end"
)

// Event is one structured progress notification. Consumers (websocket
// clients, the CLI printer) decode on Type.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Feature    string `json:"feature,omitempty"`
	ScenarioID string `json:"scenario_id,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Step       string `json:"step,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`

	// Summary fields, set on run_end.
	Total    int    `json:"total,omitempty"`
	Passed   int    `json:"passed,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	PassRate string `json:"pass_rate,omitempty"`
}

// Hub fans events out to any number of subscribers. Slow subscribers drop
// events instead of blocking the run.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a buffered event channel. The returned cancel func
// must be called when the consumer goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// RunStarted implements executor.Emitter.
func (h *Hub) RunStarted(feature spec.Feature, scenarios int) {
	h.Publish(Event{
		Type:    EventRunStart,
		Feature: feature.Name,
		Total:   scenarios,
	})
}

func (h *Hub) ScenarioStarted(id, name string) {
	h.Publish(Event{
		Type:       EventScenarioStart,
		ScenarioID: id,
		Scenario:   name,
	})
}

func (h *Hub) StepFinished(scenarioID string, step result.Step) {
	h.Publish(Event{
		Type:       EventStepEnd,
		ScenarioID: scenarioID,
		Step:       step.Description,
		Phase:      string(step.Phase),
		Status:     string(step.Status),
		Message:    step.Message,
		Error:      step.Error,
	})
}

func (h *Hub) ScenarioFinished(res result.Scenario) {
	h.Publish(Event{
		Type:       EventScenarioEnd,
		ScenarioID: res.ID,
		Scenario:   res.Name,
		Status:     string(res.Status),
		Error:      res.Error,
	})
}

func (h *Hub) RunFinished(res *result.Specification) {
	h.Publish(Event{
		Type:     EventRunEnd,
		Feature:  res.Feature.Name,
		Status:   string(res.Status),
		Error:    res.Error,
		Total:    res.Summary.Total,
		Passed:   res.Summary.Passed,
		Failed:   res.Summary.Failed,
		PassRate: res.Summary.PassRate,
	})
}
