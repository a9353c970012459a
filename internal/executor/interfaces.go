package executor

import (
	"context"
	"time"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
)

// Session is the browser surface the runners drive. *browser.Session
// satisfies it; tests substitute fakes.
type Session interface {
	Launch(ctx context.Context) error
	Health() browser.Health
	Crashed() bool
	Navigate(ctx context.Context, url string, waitUntil spec.WaitEvent, timeout time.Duration) (int, error)
	Fill(ctx context.Context, locator, text string) error
	Click(ctx context.Context, locator string) error
	IsVisible(ctx context.Context, locator string) (bool, error)
	Count(ctx context.Context, locator string) (int, error)
	TextContent(ctx context.Context, locator string) (string, error)
	URL() string
	Close()
}

// SessionFactory builds the session a run will own. Injected so tests never
// touch a real driver.
type SessionFactory func(browser.LaunchConfig) Session

// Emitter receives progress notifications as a run executes. Implementations
// must be fast; runners call them inline.
type Emitter interface {
	RunStarted(feature spec.Feature, scenarios int)
	ScenarioStarted(id, name string)
	StepFinished(scenarioID string, step result.Step)
	ScenarioFinished(res result.Scenario)
	RunFinished(res *result.Specification)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) RunStarted(spec.Feature, int)      {}
func (NopEmitter) ScenarioStarted(string, string)    {}
func (NopEmitter) StepFinished(string, result.Step)  {}
func (NopEmitter) ScenarioFinished(result.Scenario)  {}
func (NopEmitter) RunFinished(*result.Specification) {}
