package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pomelolab/pomelo/internal/result"
)

// Status is the lifecycle of one tracked task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one task's tracked state. Result is set only on completion.
type Record struct {
	ID        string                `json:"id"`
	Kind      string                `json:"kind"`
	Payload   string                `json:"payload,omitempty"`
	Status    Status                `json:"status"`
	Result    *result.Specification `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Registry tracks tasks across concurrent runs. Implementations must allow
// concurrent create/update/read without corrupting individual records.
type Registry interface {
	Create(kind, payload string) *Record
	Update(id string, status Status, res *result.Specification, errMsg string) error
	Get(id string) (*Record, bool)
	List() []*Record
}

// MemoryRegistry is the in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]*Record)}
}

// Create registers a new pending task and returns its record.
func (r *MemoryRegistry) Create(kind, payload string) *Record {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()

	return rec.clone()
}

// Update sets the task's status and, when present, its result or error.
func (r *MemoryRegistry) Update(id string, status Status, res *result.Specification, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if res != nil {
		rec.Result = res
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
	return nil
}

// Get returns a copy of the record so callers never observe concurrent
// mutation.
func (r *MemoryRegistry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns copies of all records, newest first.
func (r *MemoryRegistry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// clone copies the record including its result tree, so callers can never
// mutate registry state through a returned pointer.
func (rec *Record) clone() *Record {
	out := *rec
	if rec.Result == nil {
		return &out
	}
	res := *rec.Result
	res.Scenarios = make([]result.Scenario, len(rec.Result.Scenarios))
	for i, sc := range rec.Result.Scenarios {
		c := sc
		c.Steps = append([]result.Step(nil), sc.Steps...)
		res.Scenarios[i] = c
	}
	out.Result = &res
	return &out
}
