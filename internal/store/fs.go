package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pomelolab/pomelo/internal/result"
)

// FSStore persists run results as JSON files on the local filesystem.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Save(_ context.Context, runID string, res *result.Specification) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return os.WriteFile(s.path(runID), data, 0644)
}

func (s *FSStore) Load(_ context.Context, runID string) (*result.Specification, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var res result.Specification
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &res, nil
}

func (s *FSStore) Close() error { return nil }

func (s *FSStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}
