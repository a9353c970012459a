package notify

import (
	"context"

	"github.com/pomelolab/pomelo/internal/result"
)

// Notifier announces run completion to an external system.
type Notifier interface {
	RunFinished(ctx context.Context, runID string, res *result.Specification) error
	Close() error
}
