package spec

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

const minimalSpec = `
feature:
  name: Checkout
scenarios:
  - name: add to cart
    given:
      - type: navigate
        url: https://shop.example.com
    when:
      - type: click
        locator: "#add-to-cart"
    then:
      - type: assert_cart_count
        expected: gt0
`

func TestParseDefaults(t *testing.T) {
	s, err := Parse([]byte(minimalSpec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Configuration.Browser != EngineChromium {
		t.Errorf("expected chromium default, got %q", s.Configuration.Browser)
	}
	if !s.Configuration.Headless {
		t.Error("expected headless default true")
	}
	if s.Configuration.Timeout != DefaultActionTimeout {
		t.Errorf("expected %v action timeout, got %v", DefaultActionTimeout, s.Configuration.Timeout)
	}

	nav, ok := s.Scenarios[0].Given[0].Action.(Navigate)
	if !ok {
		t.Fatalf("expected Navigate action, got %T", s.Scenarios[0].Given[0].Action)
	}
	if nav.WaitUntil != WaitDOMContentLoaded {
		t.Errorf("expected domcontentloaded default, got %q", nav.WaitUntil)
	}
	if nav.Timeout != DefaultNavigationTimeout {
		t.Errorf("expected %v navigation timeout, got %v", DefaultNavigationTimeout, nav.Timeout)
	}
	if nav.MaxRetries != DefaultNavigationRetries {
		t.Errorf("expected %d retries, got %d", DefaultNavigationRetries, nav.MaxRetries)
	}

	cart, ok := s.Scenarios[0].Then[0].Action.(AssertCartCount)
	if !ok {
		t.Fatalf("expected AssertCartCount action, got %T", s.Scenarios[0].Then[0].Action)
	}
	if cart.Locator != DefaultCartLocator {
		t.Errorf("expected default cart locator, got %q", cart.Locator)
	}
	if !cart.Expected.AnyPositive {
		t.Error("expected gt0 expectation")
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	doc := `{
  "feature": {"name": "Search"},
  "configuration": {"browser": "firefox", "headless": false, "timeout_ms": 5000},
  "scenarios": [{
    "name": "query",
    "given": [{"type": "navigate", "url": "https://example.com", "wait_until": "networkidle", "timeout_ms": 1500, "max_retries": 4}],
    "when": [{"type": "fill", "locator": "#q", "text": "laptop"}],
    "then": [{"type": "assert_url_contains", "expected": "results"}]
  }]
}`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Configuration.Browser != EngineFirefox {
		t.Errorf("expected firefox, got %q", s.Configuration.Browser)
	}
	if s.Configuration.Headless {
		t.Error("expected headless false")
	}
	if s.Configuration.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", s.Configuration.Timeout)
	}
	nav := s.Scenarios[0].Given[0].Action.(Navigate)
	if nav.WaitUntil != WaitNetworkIdle || nav.Timeout != 1500*time.Millisecond || nav.MaxRetries != 4 {
		t.Errorf("navigate overrides not applied: %+v", nav)
	}
}

func TestParseWithDefaults(t *testing.T) {
	headed := false
	d := Defaults{
		Browser:           EngineFirefox,
		Headless:          &headed,
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 20 * time.Second,
	}

	t.Run("fill in omitted fields", func(t *testing.T) {
		s, err := ParseWithDefaults([]byte(minimalSpec), d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Configuration.Browser != EngineFirefox {
			t.Errorf("browser = %q, want configured firefox default", s.Configuration.Browser)
		}
		if s.Configuration.Headless {
			t.Error("headless = true, want configured headed default")
		}
		if s.Configuration.Timeout != 10*time.Second {
			t.Errorf("action timeout = %v, want configured 10s", s.Configuration.Timeout)
		}
		nav := s.Scenarios[0].Given[0].Action.(Navigate)
		if nav.Timeout != 20*time.Second {
			t.Errorf("navigation timeout = %v, want configured 20s", nav.Timeout)
		}
	})

	t.Run("document wins over defaults", func(t *testing.T) {
		doc := `
feature: {name: f}
configuration: {browser: webkit, headless: true, timeout_ms: 7000}
scenarios:
  - name: s
    given: [{type: navigate, url: "https://x", timeout_ms: 3000}]`
		s, err := ParseWithDefaults([]byte(doc), d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Configuration.Browser != EngineWebkit {
			t.Errorf("browser = %q, want document's webkit", s.Configuration.Browser)
		}
		if !s.Configuration.Headless {
			t.Error("headless = false, want document's true")
		}
		if s.Configuration.Timeout != 7*time.Second {
			t.Errorf("action timeout = %v, want document's 7s", s.Configuration.Timeout)
		}
		nav := s.Scenarios[0].Given[0].Action.(Navigate)
		if nav.Timeout != 3*time.Second {
			t.Errorf("navigation timeout = %v, want document's 3s", nav.Timeout)
		}
	})

	t.Run("zero defaults keep built-ins", func(t *testing.T) {
		s, err := ParseWithDefaults([]byte(minimalSpec), Defaults{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Configuration.Browser != EngineChromium || !s.Configuration.Headless {
			t.Errorf("configuration = %+v, want built-in defaults", s.Configuration)
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown browser",
			doc: `
feature: {name: f}
configuration: {browser: opera}
scenarios:
  - name: s
    given: [{type: navigate, url: "https://x"}]`,
			want: "unknown browser engine",
		},
		{
			name: "unknown given step type",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    given: [{type: teleport, url: "https://x"}]`,
			want: "unknown given step type",
		},
		{
			name: "unknown when step type",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    when: [{type: hover, locator: "#a"}]`,
			want: "unknown when step type",
		},
		{
			name: "unknown then step type",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    then: [{type: assert_count, locator: "#a"}]`,
			want: "unknown then step type",
		},
		{
			name: "navigate without url",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    given: [{type: navigate}]`,
			want: "requires a url",
		},
		{
			name: "fill without locator",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    when: [{type: fill, text: hi}]`,
			want: "requires a locator",
		},
		{
			name: "unknown wait_until",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    given: [{type: navigate, url: "https://x", wait_until: eventually}]`,
			want: "unknown wait_until",
		},
		{
			name: "cart count without expectation",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    then: [{type: assert_cart_count}]`,
			want: "requires an expectation",
		},
		{
			name: "trailing action other than click",
			doc: `
feature: {name: f}
scenarios:
  - name: s
    then:
      - type: assert_visible
        locator: "#x"
        then: {type: fill, locator: "#y"}`,
			want: "unsupported trailing action",
		},
		{
			name: "no scenarios",
			doc:  `feature: {name: f}`,
			want: "no scenarios",
		},
		{
			name: "scenario with no steps",
			doc: `
feature: {name: f}
scenarios:
  - name: empty`,
			want: "has no steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err)
			}
		})
	}
}

func TestParseCountExpectation(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    CountExpectation
		wantErr bool
	}{
		{name: "gt0 sentinel", value: "gt0", want: CountExpectation{AnyPositive: true}},
		{name: "legacy sentinel", value: "greater_than_0", want: CountExpectation{AnyPositive: true}},
		{name: "numeric string", value: " 3 ", want: CountExpectation{Exact: 3}},
		{name: "int", value: 2, want: CountExpectation{Exact: 2}},
		{name: "float from json", value: float64(5), want: CountExpectation{Exact: 5}},
		{name: "garbage string", value: "lots", wantErr: true},
		{name: "nil", value: nil, wantErr: true},
		{name: "bool", value: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCountExpectation(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestCountExpectationMatches(t *testing.T) {
	gt0 := CountExpectation{AnyPositive: true}
	if gt0.Matches(0) {
		t.Error("gt0 should not match 0")
	}
	if !gt0.Matches(7) {
		t.Error("gt0 should match 7")
	}
	exact := CountExpectation{Exact: 2}
	if !exact.Matches(2) || exact.Matches(3) {
		t.Error("exact expectation mismatch")
	}
}

func TestThenTrailingClick(t *testing.T) {
	doc := `
feature: {name: f}
scenarios:
  - name: s
    then:
      - type: assert_visible
        locator: "#result"
        then: {type: click, locator: "#next"}`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := s.Scenarios[0].Then[0]
	if step.FollowUp == nil {
		t.Fatal("expected a trailing click")
	}
	if step.FollowUp.Locator != "#next" {
		t.Errorf("expected #next, got %q", step.FollowUp.Locator)
	}
}

func TestDescribeSynthesizesDescription(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{Step{Description: "custom"}, "custom"},
		{Step{Action: Navigate{URL: "https://x"}}, "navigate to https://x"},
		{Step{Action: Fill{Locator: "#q", Text: "hi"}}, `fill #q with "hi"`},
		{Step{Action: Click{Locator: "#go"}}, "click #go"},
		{Step{Action: AssertVisible{Locator: "#a"}}, "#a is visible"},
		{Step{Action: AssertExists{Locator: "#a"}}, "#a exists"},
		{Step{Action: AssertCartCount{Expected: CountExpectation{AnyPositive: true}}}, "cart count is greater than 0"},
		{Step{Action: AssertCartCount{Expected: CountExpectation{Exact: 2}}}, "cart count is 2"},
		{Step{Action: AssertTextContains{Locator: "#t", Expected: "ok"}}, `#t contains "ok"`},
		{Step{Action: AssertURLContains{Expected: "cart"}}, `url contains "cart"`},
	}
	for _, tt := range tests {
		if got := tt.step.Describe(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestRunConfigMarshalsTimeoutMs(t *testing.T) {
	data, err := json.Marshal(RunConfig{Browser: EngineWebkit, Headless: true, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid json %s: %v", data, err)
	}
	if got["browser"] != "webkit" || got["headless"] != true || got["timeout_ms"] != float64(2000) {
		t.Errorf("unexpected wire shape: %s", data)
	}
}
