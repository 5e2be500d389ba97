package runner

import (
	"sync"
	"time"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// Handle describes one in-flight job run. Handles are informational: a
// running job cannot be cancelled through its handle, and the persisted
// job status in the store remains the source of truth.
type Handle struct {
	JobID     string
	Kind      domain.JobKind
	ViewID    string
	StartedAt time.Time
}

// Registry is the process-wide map of in-flight job runs, guarded by a
// single mutex. It exists so operators can see what is running; nothing
// relies on it for correctness.
type Registry struct {
	mu      sync.Mutex
	running map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		running: make(map[string]*Handle),
	}
}

// Insert records a run under its job id.
func (r *Registry) Insert(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[h.JobID] = h
}

// Remove drops the run for a job id. Removing an absent id is a no-op.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

// Lookup returns the handle for a job id, if one is in flight.
func (r *Registry) Lookup(jobID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.running[jobID]
	return h, ok
}

// Len reports how many runs are in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
