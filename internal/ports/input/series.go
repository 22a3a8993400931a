// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/seriesview/internal/domain"
)

// SeriesService defines the primary port for opening series in the viewer.
type SeriesService interface {
	// Submit registers an invocation and runs it in the background.
	Submit(ctx context.Context, req domain.DownloadRequest) (domain.Invocation, error)

	// Open runs one invocation to completion and returns its outcome.
	Open(ctx context.Context, req domain.DownloadRequest) domain.Outcome

	// Get returns an invocation by ID.
	Get(ctx context.Context, id string) (domain.Invocation, error)

	// Wait blocks until the invocation has an outcome or ctx is done.
	Wait(ctx context.Context, id string) (domain.Outcome, error)

	// List returns recent invocations, newest first.
	List(ctx context.Context, limit int) ([]domain.Invocation, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy           bool              // Overall health status
	Ready             bool              // Ready to accept requests
	ActiveInvocations int               // Number of running invocations
	Components        map[string]string // Component statuses
}
