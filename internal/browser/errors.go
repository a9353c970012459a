package browser

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error coming out of the driver. Classification happens
// once, at this boundary, so callers never pattern-match message text.
type Kind int

const (
	// KindGeneric covers everything that is neither a lost connection nor a
	// timeout: selector misses, protocol errors, page-level failures.
	KindGeneric Kind = iota
	// KindConnectionLost means the page, context, or browser went away.
	// Operations against a dead browser are never retried.
	KindConnectionLost
	// KindTimeout means the driver gave up waiting.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnectionLost:
		return "connection_lost"
	case KindTimeout:
		return "timeout"
	default:
		return "generic"
	}
}

// Error is a driver error tagged with its kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConnectionLost:
		return fmt.Sprintf("browser connection lost: %v", e.Err)
	case KindTimeout:
		return fmt.Sprintf("browser operation timed out: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify tags a raw driver error. The driver reports closed targets only
// through message text, so the substring checks live here and nowhere else.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "Target closed"),
		strings.Contains(lower, "target closed"),
		strings.Contains(lower, "browser has been closed"),
		strings.Contains(lower, "target page, context or browser has been closed"):
		return &Error{Kind: KindConnectionLost, Err: err}
	case strings.Contains(lower, "timeout"):
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindGeneric, Err: err}
	}
}

// IsConnectionLost reports whether err is (or wraps) a lost-connection error.
func IsConnectionLost(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindConnectionLost
}

// IsTimeout reports whether err is (or wraps) a driver timeout.
func IsTimeout(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindTimeout
}

// LaunchError means the driver, browser, context, or page could not be
// established. It is fatal to the run; retry policy for launches lives
// nowhere because there is none.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("browser launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// Health is the pre-step liveness verdict for a session.
type Health int

const (
	HealthOK Health = iota
	HealthNotInitialized
	HealthCrashed
	HealthDisconnected
	HealthPageClosed
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthCrashed:
		return "browser has crashed"
	case HealthDisconnected:
		return "browser disconnected"
	case HealthPageClosed:
		return "page is closed"
	default:
		return "browser not initialized"
	}
}

// Err converts a non-OK health state into a connection-lost error.
func (h Health) Err() error {
	if h == HealthOK {
		return nil
	}
	return &Error{Kind: KindConnectionLost, Err: errors.New(h.String())}
}
