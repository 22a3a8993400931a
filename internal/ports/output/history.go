package output

import (
	"context"

	"github.com/jobrunner/seriesview/internal/domain"
)

// InvocationHistory defines the secondary port for persisting invocations.
type InvocationHistory interface {
	// Save inserts or replaces an invocation.
	Save(ctx context.Context, inv domain.Invocation) error

	// Get returns an invocation by ID.
	Get(ctx context.Context, id string) (*domain.Invocation, error)

	// List returns the most recent invocations, newest first.
	List(ctx context.Context, limit int) ([]domain.Invocation, error)
}

// NoOpHistory is an InvocationHistory that keeps nothing.
type NoOpHistory struct{}

// Save implements InvocationHistory.
func (n *NoOpHistory) Save(_ context.Context, _ domain.Invocation) error { return nil }

// Get implements InvocationHistory.
func (n *NoOpHistory) Get(_ context.Context, _ string) (*domain.Invocation, error) {
	return nil, domain.ErrInvocationNotFound
}

// List implements InvocationHistory.
func (n *NoOpHistory) List(_ context.Context, _ int) ([]domain.Invocation, error) {
	return nil, nil
}
