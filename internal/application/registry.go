// Package application contains the application services.
package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// DefaultRetainFinished is how many finished invocations a registry keeps.
// Older ones are only reachable through the history store.
const DefaultRetainFinished = 100

// InvocationRegistry tracks invocations of this process.
type InvocationRegistry struct {
	mu          sync.RWMutex
	invocations map[string]*invocationEntry
	retain      int
	metrics     output.MetricsCollector
	logger      *slog.Logger
}

type invocationEntry struct {
	Invocation *domain.Invocation
	done       chan struct{}
}

// NewInvocationRegistry creates a new invocation registry.
func NewInvocationRegistry(metrics output.MetricsCollector, logger *slog.Logger) *InvocationRegistry {
	return &InvocationRegistry{
		invocations: make(map[string]*invocationEntry),
		retain:      DefaultRetainFinished,
		metrics:     metrics,
		logger:      logger,
	}
}

// Add registers a new invocation.
func (r *InvocationRegistry) Add(inv *domain.Invocation) {
	r.mu.Lock()
	r.invocations[inv.ID] = &invocationEntry{
		Invocation: inv,
		done:       make(chan struct{}),
	}
	r.mu.Unlock()

	r.updateMetrics()
}

// Transition moves a registered invocation to the given state.
func (r *InvocationRegistry) Transition(id string, to domain.State) (domain.Invocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.invocations[id]
	if !ok {
		return domain.Invocation{}, domain.ErrInvocationNotFound
	}

	from := entry.Invocation.State
	if err := entry.Invocation.Transition(to); err != nil {
		return *entry.Invocation, err
	}

	r.logger.Debug("invocation state changed", "id", id, "from", from, "to", to)
	return *entry.Invocation, nil
}

// SetStagingDir records the staging directory of an invocation.
func (r *InvocationRegistry) SetStagingDir(id, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.invocations[id]; ok {
		entry.Invocation.StagingDir = dir
	}
}

// Finish records the outcome and signals completion. The outcome is
// accepted once; later calls return ErrInvalidTransition.
func (r *InvocationRegistry) Finish(id string, outcome domain.Outcome, now time.Time) (domain.Invocation, error) {
	r.mu.Lock()
	entry, ok := r.invocations[id]
	if !ok {
		r.mu.Unlock()
		return domain.Invocation{}, domain.ErrInvocationNotFound
	}

	if err := entry.Invocation.Finish(outcome, now); err != nil {
		inv := *entry.Invocation
		r.mu.Unlock()
		return inv, err
	}
	close(entry.done)
	inv := *entry.Invocation
	r.mu.Unlock()

	r.updateMetrics()
	return inv, nil
}

// Get returns a snapshot of an invocation.
func (r *InvocationRegistry) Get(id string) (domain.Invocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.invocations[id]
	if !ok {
		return domain.Invocation{}, false
	}
	return *entry.Invocation, true
}

// Await blocks until the invocation has an outcome or ctx is done. It
// reports false when the ID is not registered. An invocation evicted while
// being awaited still delivers its outcome.
func (r *InvocationRegistry) Await(ctx context.Context, id string) (domain.Outcome, bool, error) {
	r.mu.RLock()
	entry, ok := r.invocations[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Outcome{}, false, nil
	}

	select {
	case <-ctx.Done():
		return domain.Outcome{}, true, ctx.Err()
	case <-entry.done:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return *entry.Invocation.Outcome, true, nil
}

// List returns snapshots of all invocations, newest first.
func (r *InvocationRegistry) List() []domain.Invocation {
	r.mu.RLock()
	list := make([]domain.Invocation, 0, len(r.invocations))
	for _, entry := range r.invocations {
		list = append(list, *entry.Invocation)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	return list
}

// ActiveCount returns the number of invocations without an outcome.
func (r *InvocationRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, entry := range r.invocations {
		if !entry.Invocation.Done() {
			active++
		}
	}
	return active
}

// Prune drops the oldest finished invocations beyond the retention limit.
// Running invocations are never dropped. Callers prune once a finished
// invocation is persisted elsewhere.
func (r *InvocationRegistry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var finished []*domain.Invocation
	for _, entry := range r.invocations {
		if entry.Invocation.Done() {
			finished = append(finished, entry.Invocation)
		}
	}
	excess := len(finished) - r.retain
	if excess <= 0 {
		return 0
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(finished[j].FinishedAt)
	})
	for _, inv := range finished[:excess] {
		delete(r.invocations, inv.ID)
	}
	r.logger.Debug("pruned finished invocations", "count", excess)
	return excess
}

// updateMetrics updates the metrics collector with the active count.
func (r *InvocationRegistry) updateMetrics() {
	r.metrics.SetActiveInvocations(r.ActiveCount())
}
