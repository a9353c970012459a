package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/spec"
)

const (
	// DefaultStartupTimeout bounds driver and browser startup.
	DefaultStartupTimeout = 30 * time.Second

	maxPageAttempts = 3
)

// State tracks the session lifecycle. Closed is terminal and idempotent.
type State int

const (
	StateUnstarted State = iota
	StateLaunching
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unstarted"
	}
}

// LaunchConfig configures one session launch. DisplayAvailable is the
// process-level capability flag detected once at startup and injected here.
type LaunchConfig struct {
	Engine           spec.Engine
	Headless         bool
	DisplayAvailable bool
	ActionTimeout    time.Duration
	StartupTimeout   time.Duration
}

func (c *LaunchConfig) applyDefaults() {
	if c.Engine == "" {
		c.Engine = spec.EngineChromium
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = spec.DefaultActionTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
}

// Session owns one browser, one browsing context, and one page for the
// lifetime of a single run. It is never shared across runs.
type Session struct {
	cfg      LaunchConfig
	launcher launcher
	sleep    func(time.Duration)

	state          State
	degradedReason string
	crashed        atomic.Bool

	browser    browserAPI
	browserCtx contextAPI
	page       pageAPI

	closeOnce sync.Once
}

// NewSession creates an unstarted session backed by the playwright driver.
func NewSession(cfg LaunchConfig) *Session {
	return newSession(cfg, newPlaywrightLauncher())
}

func newSession(cfg LaunchConfig, l launcher) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:      cfg,
		launcher: l,
		sleep:    time.Sleep,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// DegradedReason returns why the session fell back to headless, if it did.
func (s *Session) DegradedReason() string { return s.degradedReason }

// Crashed reports whether a crash observer fired. Consulted to produce a
// more specific error message on connection loss.
func (s *Session) Crashed() bool { return s.crashed.Load() }

// Launch starts the driver, browser, context, and page. Failures are fatal
// to the run; any partial state is torn down before the error propagates.
func (s *Session) Launch(ctx context.Context) error {
	s.state = StateLaunching

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	if err := s.launcher.Start(startCtx); err != nil {
		s.Close()
		return &LaunchError{Err: err}
	}

	headless := s.cfg.Headless
	if !headless && !s.cfg.DisplayAvailable {
		log.Warn().Msg("no display available, forcing headless mode")
		headless = true
	}

	log.Info().
		Str("engine", string(s.cfg.Engine)).
		Bool("headless", headless).
		Msg("launching browser")

	if err := s.launchBrowser(headless); err != nil {
		s.Close()
		return &LaunchError{Err: err}
	}

	if err := s.createPage(&headless); err != nil {
		s.Close()
		return &LaunchError{Err: err}
	}

	if s.state != StateDegraded {
		s.state = StateReady
	}
	log.Info().Str("state", s.state.String()).Msg("browser session established")
	return nil
}

func (s *Session) launchBrowser(headless bool) error {
	b, err := s.launcher.Launch(s.cfg.Engine, headless)
	if err != nil {
		return fmt.Errorf("launching %s: %w", s.cfg.Engine, err)
	}
	if !b.IsConnected() {
		b.Close()
		return errors.New("browser launched but is not connected")
	}
	s.browser = b

	c, err := b.NewContext()
	if err != nil {
		return fmt.Errorf("creating browser context: %w", err)
	}
	c.SetDefaultTimeout(s.cfg.ActionTimeout)
	s.browserCtx = c
	return nil
}

// createPage makes up to three attempts, backing off attempt×1s between
// them. After the second failed headed attempt the browser is relaunched
// headless once; there is no per-attempt escalation.
func (s *Session) createPage(headless *bool) error {
	var lastErr error

	for attempt := 1; attempt <= maxPageAttempts; attempt++ {
		page, err := s.newLivePage()
		if err == nil {
			s.page = page
			log.Debug().Int("attempt", attempt).Msg("page created")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxPageAttempts).
			Msg("page creation failed")

		if attempt == maxPageAttempts {
			break
		}
		s.sleep(time.Duration(attempt) * time.Second)

		if attempt == 2 && !*headless {
			log.Warn().Msg("repeated headed page failures, relaunching headless")
			if err := s.relaunchHeadless(); err != nil {
				return fmt.Errorf("headless fallback: %w", err)
			}
			*headless = true
			s.state = StateDegraded
			s.degradedReason = "headed page creation failed repeatedly"
		}
	}

	return fmt.Errorf("creating page after %d attempts: %w", maxPageAttempts, lastErr)
}

func (s *Session) newLivePage() (pageAPI, error) {
	page, err := s.browserCtx.NewPage()
	if err != nil {
		return nil, err
	}

	// Give the renderer a moment; some environments close pages right after
	// creation.
	s.sleep(time.Second)
	if page.IsClosed() {
		page.Close()
		return nil, errors.New("page closed immediately after creation")
	}

	page.OnCrash(func() {
		s.crashed.Store(true)
		log.Error().Msg("page crashed")
	})
	page.OnClose(func() {
		if !s.crashed.Load() {
			log.Warn().Msg("page closed unexpectedly")
		}
	})
	page.SetDefaultTimeout(s.cfg.ActionTimeout)
	return page, nil
}

func (s *Session) relaunchHeadless() error {
	if s.browserCtx != nil {
		if err := s.browserCtx.Close(); err != nil {
			log.Debug().Err(err).Msg("closing context before headless relaunch")
		}
		s.browserCtx = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			log.Debug().Err(err).Msg("closing browser before headless relaunch")
		}
		s.browser = nil
	}
	return s.launchBrowser(true)
}

// Health reports the session's liveness. Consulted before every step.
func (s *Session) Health() Health {
	if s.crashed.Load() {
		return HealthCrashed
	}
	if s.browser == nil || s.page == nil || s.state == StateClosed {
		return HealthNotInitialized
	}
	if !s.browser.IsConnected() {
		return HealthDisconnected
	}
	if s.page.IsClosed() {
		return HealthPageClosed
	}
	return HealthOK
}

// Close tears down page, context, browser, and driver. Each layer is guarded
// independently so one failure never blocks the rest. Closing twice, or
// closing a session that never launched, is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.page != nil {
			if !s.page.IsClosed() {
				if err := s.page.Close(); err != nil {
					log.Debug().Err(err).Msg("closing page")
				}
			}
			s.page = nil
		}
		if s.browserCtx != nil {
			if err := s.browserCtx.Close(); err != nil {
				log.Debug().Err(err).Msg("closing browser context")
			}
			s.browserCtx = nil
		}
		if s.browser != nil {
			if s.browser.IsConnected() {
				if err := s.browser.Close(); err != nil {
					log.Debug().Err(err).Msg("closing browser")
				}
			}
			s.browser = nil
		}
		if err := s.launcher.Stop(); err != nil {
			log.Debug().Err(err).Msg("stopping driver")
		}
		s.state = StateClosed
		log.Debug().Msg("browser session closed")
	})
}

// -- step operations, errors classified at this boundary --

// Navigate loads url and returns the response status code when one was
// received.
func (s *Session) Navigate(ctx context.Context, url string, waitUntil spec.WaitEvent, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, Classify(err)
	}
	code, err := s.page.Goto(url, waitUntil, timeout)
	if err != nil {
		return code, Classify(err)
	}
	return code, nil
}

// Fill types text into the element matched by locator.
func (s *Session) Fill(ctx context.Context, locator, text string) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	if err := s.page.Fill(locator, text); err != nil {
		return Classify(err)
	}
	return nil
}

// Click clicks the element matched by locator.
func (s *Session) Click(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	if err := s.page.Click(locator); err != nil {
		return Classify(err)
	}
	return nil
}

// IsVisible reports element visibility.
func (s *Session) IsVisible(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Classify(err)
	}
	visible, err := s.page.IsVisible(locator)
	if err != nil {
		return false, Classify(err)
	}
	return visible, nil
}

// Count returns the number of elements matching locator.
func (s *Session) Count(ctx context.Context, locator string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, Classify(err)
	}
	count, err := s.page.Count(locator)
	if err != nil {
		return 0, Classify(err)
	}
	return count, nil
}

// TextContent returns the text content of the first element matching
// locator.
func (s *Session) TextContent(ctx context.Context, locator string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Classify(err)
	}
	text, err := s.page.TextContent(locator)
	if err != nil {
		return "", Classify(err)
	}
	return text, nil
}

// URL returns the current page URL.
func (s *Session) URL() string {
	if s.page == nil {
		return ""
	}
	return s.page.URL()
}

func envDisplay() string { return os.Getenv("DISPLAY") }
