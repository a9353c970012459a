package store

import (
	"context"

	"github.com/pomelolab/pomelo/internal/result"
)

// Store persists one finished run keyed by its run identifier. The executor
// never knows which engine sits behind it.
type Store interface {
	Save(ctx context.Context, runID string, res *result.Specification) error
	Load(ctx context.Context, runID string) (*result.Specification, error)
	Close() error
}
