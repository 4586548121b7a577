package job

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bananastudio/internal/nanobanana"
)

// Registry owns independent lifecycle instances. There is no cross-job
// coordination beyond create and dispose: batch submissions fire every
// instance without waiting and they complete in any order.
type Registry struct {
	client Transport
	logger zerolog.Logger

	mu    sync.Mutex
	jobs  map[string]*Lifecycle
	order []string
}

func NewRegistry(client Transport, logger zerolog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger,
		jobs:   make(map[string]*Lifecycle),
	}
}

// Create starts one lifecycle for the given request.
func (r *Registry) Create(req nanobanana.Request, opts Options) *Lifecycle {
	if opts.Logger == nil {
		opts.Logger = &r.logger
	}
	id := uuid.NewString()
	l := newLifecycle(id, req, r.client, opts)
	r.mu.Lock()
	r.jobs[id] = l
	r.order = append(r.order, id)
	r.mu.Unlock()
	return l
}

// CreateBatch starts count independent lifecycles sharing the same request
// parameters. Each gets its own copy so id binding never crosses instances.
func (r *Registry) CreateBatch(req nanobanana.Request, count int, opts Options) []*Lifecycle {
	if count < 1 {
		count = 1
	}
	out := make([]*Lifecycle, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, r.Create(req.Clone(), opts))
	}
	return out
}

// Rerun starts count new lifecycles from the bound request snapshot of the
// named instance, server id included. The target is explicit so reruns never
// cross-talk between panels.
func (r *Registry) Rerun(id string, count int, opts Options) ([]*Lifecycle, error) {
	l, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("job: unknown job %q", id)
	}
	return r.CreateBatch(l.RequestSnapshot(), count, opts), nil
}

// Get looks up a lifecycle by id.
func (r *Registry) Get(id string) (*Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.jobs[id]
	return l, ok
}

// List returns all lifecycles, newest first.
func (r *Registry) List() []*Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Lifecycle, 0, len(r.jobs))
	for i := len(r.order) - 1; i >= 0; i-- {
		if l, ok := r.jobs[r.order[i]]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Remove disposes a lifecycle and forgets it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	l, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	if ok {
		l.Dispose()
	}
	return ok
}

// ClearFailed disposes every lifecycle halted in the failed phase and
// reports how many were removed. Instances counting down in backoff are kept.
func (r *Registry) ClearFailed() int {
	r.mu.Lock()
	var failed []*Lifecycle
	for id, l := range r.jobs {
		if l.Snapshot().Phase == PhaseFailed {
			failed = append(failed, l)
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()
	for _, l := range failed {
		l.Dispose()
	}
	return len(failed)
}

// Len reports how many lifecycles the registry holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
