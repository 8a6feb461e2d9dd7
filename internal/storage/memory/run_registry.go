package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunRegistry tracks runs started through the API.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]crawler.RunState
	now  func() time.Time
}

// NewRunRegistry constructs an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]crawler.RunState),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new run in queued status.
func (r *RunRegistry) Create(_ context.Context, id string, req crawler.RunRequest) (crawler.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[id]; exists {
		return crawler.RunState{}, errors.New("run already exists")
	}
	state := crawler.RunState{
		ID:        id,
		Request:   req,
		Status:    crawler.RunStatusQueued,
		CreatedAt: r.now(),
	}
	r.runs[id] = state
	return state, nil
}

// MarkRunning moves a queued run to running.
func (r *RunRegistry) MarkRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if state.Status.Terminal() {
		return errors.New("run already finished")
	}
	now := r.now()
	state.Status = crawler.RunStatusRunning
	state.StartedAt = &now
	r.runs[id] = state
	return nil
}

// Finish records the terminal status of a run. summary may be nil when the
// run failed before producing one.
func (r *RunRegistry) Finish(_ context.Context, id string, summary *crawler.RunSummary, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	now := r.now()
	state.FinishedAt = &now
	state.Summary = summary
	switch {
	case errors.Is(runErr, context.Canceled):
		state.Status = crawler.RunStatusCanceled
		state.Error = runErr.Error()
	case runErr != nil:
		state.Status = crawler.RunStatusFailed
		state.Error = runErr.Error()
	case summary != nil && summary.Canceled:
		state.Status = crawler.RunStatusCanceled
	default:
		state.Status = crawler.RunStatusSucceeded
	}
	r.runs[id] = state
	return nil
}

// Get fetches a run by id.
func (r *RunRegistry) Get(_ context.Context, id string) (crawler.RunState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[id]
	if !ok {
		return crawler.RunState{}, ErrRunNotFound
	}
	return state, nil
}

// List returns all runs, newest first.
func (r *RunRegistry) List(_ context.Context) []crawler.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.RunState, 0, len(r.runs))
	for _, state := range r.runs {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
