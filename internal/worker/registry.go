package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs. A cancel that
// arrives before the job starts leaves a tombstone so the run stops at its
// first checkpoint.
type Registry struct {
	mu        sync.Mutex
	running   map[string]context.CancelFunc
	cancelled map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// Register derives the run context for jobID. release must be called when
// the run ends.
func (r *Registry) Register(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancelled[jobID]; ok {
		delete(r.cancelled, jobID)
		cancel()
	}
	r.running[jobID] = cancel
	return ctx, func() {
		r.mu.Lock()
		delete(r.running, jobID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel stops jobID if it is running, otherwise records a tombstone. It
// reports whether a running job was signalled.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel()
		return true
	}
	r.cancelled[jobID] = struct{}{}
	return false
}

// Forget drops a tombstone for a job that will never run.
func (r *Registry) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, jobID)
}

// Running reports the number of registered runs.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
