package spec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied while parsing steps and run configuration.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultNavigationRetries = 2
	DefaultActionTimeout     = 30 * time.Second
	DefaultCartLocator       = "#nav-cart-count"
)

// Engine identifies the browser engine a run executes against.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebkit   Engine = "webkit"
)

func (e Engine) Valid() bool {
	switch e {
	case EngineChromium, EngineFirefox, EngineWebkit:
		return true
	}
	return false
}

// WaitEvent is the page load event navigation waits for. The default is
// domcontentloaded rather than networkidle so pages with long-polling don't
// time out.
type WaitEvent string

const (
	WaitDOMContentLoaded WaitEvent = "domcontentloaded"
	WaitLoad             WaitEvent = "load"
	WaitNetworkIdle      WaitEvent = "networkidle"
)

// Phase is the Gherkin phase a step belongs to.
type Phase string

const (
	PhaseGiven Phase = "given"
	PhaseWhen  Phase = "when"
	PhaseThen  Phase = "then"
)

// Specification is the full input for one run: a feature, its run
// configuration, and an ordered list of scenarios. It is immutable once
// handed to the runner.
type Specification struct {
	Feature       Feature
	Configuration RunConfig
	Scenarios     []Scenario
}

type Feature struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// RunConfig selects the engine and mode for the whole run. Timeout is the
// default page-action timeout.
type RunConfig struct {
	Browser  Engine        `json:"browser"`
	Headless bool          `json:"headless"`
	Timeout  time.Duration `json:"-"`
}

// MarshalJSON emits the wire shape (timeout_ms) so results echo the
// configuration they ran with.
func (c RunConfig) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"browser":%q,"headless":%t,"timeout_ms":%d}`,
		c.Browser, c.Headless, c.Timeout.Milliseconds())), nil
}

// Scenario holds the three ordered phases. Steps within a phase execute
// strictly in order; phases execute Given, When, Then.
type Scenario struct {
	ID   string
	Name string
	Tags []string

	Given []Step
	When  []Step
	Then  []Step
}

// Step is one executable instruction. Action is exactly one of the closed
// variants below. Then steps may additionally carry a trailing click that
// runs after the assertion.
type Step struct {
	Description string
	Action      Action
	FollowUp    *Click
}

// Describe returns the step description, synthesizing one when the author
// left it empty.
func (s Step) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return s.Action.describe()
}

// Action is the closed set of step variants. Decoding rejects unknown types
// instead of ignoring them.
type Action interface {
	Type() string
	describe() string
}

// Navigate loads a URL, retrying transient failures.
type Navigate struct {
	URL        string
	WaitUntil  WaitEvent
	Timeout    time.Duration
	MaxRetries int
}

func (Navigate) Type() string       { return "navigate" }
func (a Navigate) describe() string { return "navigate to " + a.URL }

// Fill types text into the element matched by Locator.
type Fill struct {
	Locator string
	Text    string
}

func (Fill) Type() string       { return "fill" }
func (a Fill) describe() string { return fmt.Sprintf("fill %s with %q", a.Locator, a.Text) }

// Click clicks the element matched by Locator.
type Click struct {
	Locator string
}

func (Click) Type() string       { return "click" }
func (a Click) describe() string { return "click " + a.Locator }

// AssertVisible passes when the element is visible.
type AssertVisible struct {
	Locator string
}

func (AssertVisible) Type() string       { return "assert_visible" }
func (a AssertVisible) describe() string { return a.Locator + " is visible" }

// AssertExists passes when at least one element matches.
type AssertExists struct {
	Locator string
}

func (AssertExists) Type() string       { return "assert_exists" }
func (a AssertExists) describe() string { return a.Locator + " exists" }

// AssertCartCount compares the numeric text content of the cart badge
// against an expectation.
type AssertCartCount struct {
	Locator  string
	Expected CountExpectation
}

func (AssertCartCount) Type() string { return "assert_cart_count" }
func (a AssertCartCount) describe() string {
	return fmt.Sprintf("cart count is %s", a.Expected)
}

// AssertTextContains passes when the expected text is a substring of the
// element's text content.
type AssertTextContains struct {
	Locator  string
	Expected string
}

func (AssertTextContains) Type() string { return "assert_text_contains" }
func (a AssertTextContains) describe() string {
	return fmt.Sprintf("%s contains %q", a.Locator, a.Expected)
}

// AssertURLContains passes when the expected text is a substring of the
// current page URL.
type AssertURLContains struct {
	Expected string
}

func (AssertURLContains) Type() string { return "assert_url_contains" }
func (a AssertURLContains) describe() string {
	return fmt.Sprintf("url contains %q", a.Expected)
}

// CountExpectation is either the "gt0" sentinel or an exact count.
type CountExpectation struct {
	AnyPositive bool
	Exact       int
}

func (e CountExpectation) String() string {
	if e.AnyPositive {
		return "greater than 0"
	}
	return strconv.Itoa(e.Exact)
}

// Matches reports whether the actual count satisfies the expectation.
func (e CountExpectation) Matches(count int) bool {
	if e.AnyPositive {
		return count > 0
	}
	return count == e.Exact
}

// -- wire format --

type rawSpecification struct {
	Feature       Feature       `yaml:"feature" json:"feature"`
	Configuration rawConfig     `yaml:"configuration" json:"configuration"`
	Scenarios     []rawScenario `yaml:"scenarios" json:"scenarios"`
}

type rawConfig struct {
	Browser   string `yaml:"browser" json:"browser"`
	Headless  *bool  `yaml:"headless" json:"headless"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

type rawScenario struct {
	ID    string    `yaml:"id" json:"id"`
	Name  string    `yaml:"name" json:"name"`
	Tags  []string  `yaml:"tags" json:"tags"`
	Given []rawStep `yaml:"given" json:"given"`
	When  []rawStep `yaml:"when" json:"when"`
	Then  []rawStep `yaml:"then" json:"then"`
}

type rawStep struct {
	Step       string   `yaml:"step" json:"step"`
	Type       string   `yaml:"type" json:"type"`
	URL        string   `yaml:"url" json:"url"`
	WaitUntil  string   `yaml:"wait_until" json:"wait_until"`
	TimeoutMs  int      `yaml:"timeout_ms" json:"timeout_ms"`
	MaxRetries int      `yaml:"max_retries" json:"max_retries"`
	Locator    string   `yaml:"locator" json:"locator"`
	Text       string   `yaml:"text" json:"text"`
	Expected   any      `yaml:"expected" json:"expected"`
	Then       *rawStep `yaml:"then" json:"then"`
}

// Defaults replaces the built-in fallbacks for fields a document omits.
// Zero values keep the built-ins. The document always wins over both.
type Defaults struct {
	Browser           Engine
	Headless          *bool
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
}

// Parse decodes a specification from YAML or JSON (YAML being a superset)
// and resolves every step into its typed variant. Unknown step types are
// errors, not no-ops.
func Parse(data []byte) (*Specification, error) {
	return ParseWithDefaults(data, Defaults{})
}

// ParseWithDefaults is Parse with process-level defaults (typically from
// pomelo.yml) filling in what the document leaves unset.
func ParseWithDefaults(data []byte, d Defaults) (*Specification, error) {
	var raw rawSpecification
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding specification: %w", err)
	}
	return fromRaw(raw, d)
}

func fromRaw(raw rawSpecification, d Defaults) (*Specification, error) {
	s := &Specification{Feature: raw.Feature}

	cfg, err := parseConfig(raw.Configuration, d)
	if err != nil {
		return nil, err
	}
	s.Configuration = cfg

	for i, rs := range raw.Scenarios {
		sc, err := parseScenario(rs, d)
		if err != nil {
			return nil, fmt.Errorf("scenario %d (%s): %w", i, rs.Name, err)
		}
		s.Scenarios = append(s.Scenarios, sc)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseConfig(raw rawConfig, d Defaults) (RunConfig, error) {
	cfg := RunConfig{
		Browser:  EngineChromium,
		Headless: true,
		Timeout:  DefaultActionTimeout,
	}
	if d.Browser != "" {
		cfg.Browser = d.Browser
	}
	if d.Headless != nil {
		cfg.Headless = *d.Headless
	}
	if d.ActionTimeout > 0 {
		cfg.Timeout = d.ActionTimeout
	}
	if raw.Browser != "" {
		cfg.Browser = Engine(raw.Browser)
		if !cfg.Browser.Valid() {
			return cfg, fmt.Errorf("unknown browser engine %q", raw.Browser)
		}
	}
	if raw.Headless != nil {
		cfg.Headless = *raw.Headless
	}
	if raw.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(raw.TimeoutMs) * time.Millisecond
	}
	return cfg, nil
}

func parseScenario(raw rawScenario, d Defaults) (Scenario, error) {
	sc := Scenario{ID: raw.ID, Name: raw.Name, Tags: raw.Tags}

	for i, rs := range raw.Given {
		step, err := parseStep(PhaseGiven, rs, d)
		if err != nil {
			return sc, fmt.Errorf("given step %d: %w", i, err)
		}
		sc.Given = append(sc.Given, step)
	}
	for i, rs := range raw.When {
		step, err := parseStep(PhaseWhen, rs, d)
		if err != nil {
			return sc, fmt.Errorf("when step %d: %w", i, err)
		}
		sc.When = append(sc.When, step)
	}
	for i, rs := range raw.Then {
		step, err := parseStep(PhaseThen, rs, d)
		if err != nil {
			return sc, fmt.Errorf("then step %d: %w", i, err)
		}
		sc.Then = append(sc.Then, step)
	}
	return sc, nil
}

func parseStep(phase Phase, raw rawStep, d Defaults) (Step, error) {
	step := Step{Description: raw.Step}

	switch phase {
	case PhaseGiven:
		switch raw.Type {
		case "navigate", "":
			// Given steps carry only navigation; a bare url implies it.
			if raw.URL == "" {
				return step, fmt.Errorf("navigate step requires a url")
			}
			nav, err := parseNavigate(raw, d)
			if err != nil {
				return step, err
			}
			step.Action = nav
		default:
			return step, fmt.Errorf("unknown given step type %q", raw.Type)
		}

	case PhaseWhen:
		switch raw.Type {
		case "fill":
			if raw.Locator == "" {
				return step, fmt.Errorf("fill step requires a locator")
			}
			step.Action = Fill{Locator: raw.Locator, Text: raw.Text}
		case "click":
			if raw.Locator == "" {
				return step, fmt.Errorf("click step requires a locator")
			}
			step.Action = Click{Locator: raw.Locator}
		case "navigate":
			if raw.URL == "" {
				return step, fmt.Errorf("navigate step requires a url")
			}
			nav, err := parseNavigate(raw, d)
			if err != nil {
				return step, err
			}
			step.Action = nav
		default:
			return step, fmt.Errorf("unknown when step type %q", raw.Type)
		}

	case PhaseThen:
		switch raw.Type {
		case "assert_visible":
			if raw.Locator == "" {
				return step, fmt.Errorf("assert_visible step requires a locator")
			}
			step.Action = AssertVisible{Locator: raw.Locator}
		case "assert_exists":
			if raw.Locator == "" {
				return step, fmt.Errorf("assert_exists step requires a locator")
			}
			step.Action = AssertExists{Locator: raw.Locator}
		case "assert_cart_count":
			expected, err := parseCountExpectation(raw.Expected)
			if err != nil {
				return step, err
			}
			locator := raw.Locator
			if locator == "" {
				locator = DefaultCartLocator
			}
			step.Action = AssertCartCount{Locator: locator, Expected: expected}
		case "assert_text_contains":
			if raw.Locator == "" {
				return step, fmt.Errorf("assert_text_contains step requires a locator")
			}
			expected, ok := raw.Expected.(string)
			if !ok || expected == "" {
				return step, fmt.Errorf("assert_text_contains step requires expected text")
			}
			step.Action = AssertTextContains{Locator: raw.Locator, Expected: expected}
		case "assert_url_contains":
			expected, ok := raw.Expected.(string)
			if !ok || expected == "" {
				return step, fmt.Errorf("assert_url_contains step requires expected text")
			}
			step.Action = AssertURLContains{Expected: expected}
		default:
			return step, fmt.Errorf("unknown then step type %q", raw.Type)
		}

		// A Then step may both assert and act.
		if raw.Then != nil {
			if raw.Then.Type != "click" {
				return step, fmt.Errorf("unsupported trailing action %q", raw.Then.Type)
			}
			if raw.Then.Locator == "" {
				return step, fmt.Errorf("trailing click requires a locator")
			}
			step.FollowUp = &Click{Locator: raw.Then.Locator}
		}

	default:
		return step, fmt.Errorf("unknown phase %q", phase)
	}

	return step, nil
}

func parseNavigate(raw rawStep, d Defaults) (Navigate, error) {
	nav := Navigate{
		URL:        raw.URL,
		WaitUntil:  WaitDOMContentLoaded,
		Timeout:    DefaultNavigationTimeout,
		MaxRetries: DefaultNavigationRetries,
	}
	if d.NavigationTimeout > 0 {
		nav.Timeout = d.NavigationTimeout
	}
	if raw.WaitUntil != "" {
		switch WaitEvent(raw.WaitUntil) {
		case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
			nav.WaitUntil = WaitEvent(raw.WaitUntil)
		default:
			return nav, fmt.Errorf("unknown wait_until %q", raw.WaitUntil)
		}
	}
	if raw.TimeoutMs > 0 {
		nav.Timeout = time.Duration(raw.TimeoutMs) * time.Millisecond
	}
	if raw.MaxRetries > 0 {
		nav.MaxRetries = raw.MaxRetries
	}
	return nav, nil
}

func parseCountExpectation(v any) (CountExpectation, error) {
	switch expected := v.(type) {
	case string:
		s := strings.TrimSpace(expected)
		// "gt0" is canonical; the legacy sentinel is accepted too.
		if s == "gt0" || s == "greater_than_0" {
			return CountExpectation{AnyPositive: true}, nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return CountExpectation{Exact: n}, nil
		}
		return CountExpectation{}, fmt.Errorf("invalid cart count expectation %q", expected)
	case int:
		return CountExpectation{Exact: expected}, nil
	case float64:
		return CountExpectation{Exact: int(expected)}, nil
	case nil:
		return CountExpectation{}, fmt.Errorf("assert_cart_count step requires an expectation")
	default:
		return CountExpectation{}, fmt.Errorf("invalid cart count expectation %v", v)
	}
}

// Validate fails fast on structural problems so no browser is launched for a
// malformed specification.
func (s *Specification) Validate() error {
	if !s.Configuration.Browser.Valid() {
		return fmt.Errorf("unknown browser engine %q", s.Configuration.Browser)
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("specification has no scenarios")
	}
	for i, sc := range s.Scenarios {
		if len(sc.Given)+len(sc.When)+len(sc.Then) == 0 {
			return fmt.Errorf("scenario %d (%s) has no steps", i, sc.Name)
		}
		for _, st := range [][]Step{sc.Given, sc.When, sc.Then} {
			for _, step := range st {
				if step.Action == nil {
					return fmt.Errorf("scenario %d (%s) has a step with no action", i, sc.Name)
				}
			}
		}
	}
	return nil
}
