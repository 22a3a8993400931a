package application

import (
	"context"

	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	fs          afero.Fs
	stagingRoot string
	executable  string
	registry    *InvocationRegistry
	history     bool
}

// NewHealthService creates a new health service.
func NewHealthService(fs afero.Fs, stagingRoot, executable string, registry *InvocationRegistry, historyEnabled bool) *HealthService {
	return &HealthService{
		fs:          fs,
		stagingRoot: stagingRoot,
		executable:  executable,
		registry:    registry,
		history:     historyEnabled,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true if the viewer can be launched on a new staging directory.
func (s *HealthService) IsReady(ctx context.Context) bool {
	return s.viewerStatus() == "ok" && s.stagingStatus() == "ok"
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"viewer":  s.viewerStatus(),
		"staging": s.stagingStatus(),
		"history": "disabled",
	}
	if s.history {
		components["history"] = "ok"
	}

	return input.HealthDetails{
		Healthy:           s.IsHealthy(ctx),
		Ready:             s.IsReady(ctx),
		ActiveInvocations: s.registry.ActiveCount(),
		Components:        components,
	}
}

func (s *HealthService) viewerStatus() string {
	info, err := s.fs.Stat(s.executable)
	if err != nil || info.IsDir() {
		return "missing"
	}
	return "ok"
}

// stagingStatus probes the staging root by creating and removing a file.
func (s *HealthService) stagingStatus() string {
	if err := s.fs.MkdirAll(s.stagingRoot, 0o755); err != nil {
		return "unwritable"
	}
	f, err := afero.TempFile(s.fs, s.stagingRoot, ".probe-")
	if err != nil {
		return "unwritable"
	}
	name := f.Name()
	_ = f.Close()
	_ = s.fs.Remove(name)
	return "ok"
}
