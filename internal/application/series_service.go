package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/input"
	"github.com/jobrunner/seriesview/internal/ports/output"
)

// StagingArea is where staging directories are created.
type StagingArea struct {
	Fs     afero.Fs
	Root   string
	Prefix string
}

// SeriesService runs the open-series workflow: download, readiness poll,
// viewer launch.
type SeriesService struct {
	staging     StagingArea
	coordinator *DownloadCoordinator
	poller      *ReadinessPoller
	launcher    *ViewerLauncher
	registry    *InvocationRegistry
	history     output.InvocationHistory
	metrics     output.MetricsCollector
	logger      *slog.Logger

	newID func() string
	now   func() time.Time

	// Background invocations run on ctx, detached from the submitting request.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ input.SeriesService = (*SeriesService)(nil)

// NewSeriesService creates a new series service.
func NewSeriesService(
	staging StagingArea,
	coordinator *DownloadCoordinator,
	poller *ReadinessPoller,
	launcher *ViewerLauncher,
	registry *InvocationRegistry,
	history output.InvocationHistory,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *SeriesService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SeriesService{
		staging:     staging,
		coordinator: coordinator,
		poller:      poller,
		launcher:    launcher,
		registry:    registry,
		history:     history,
		metrics:     metrics,
		logger:      logger,
		newID:       uuid.NewString,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Open runs one invocation to completion and returns its outcome.
func (s *SeriesService) Open(ctx context.Context, req domain.DownloadRequest) domain.Outcome {
	inv := s.register(ctx, req)
	return s.run(ctx, inv.ID, req)
}

// Submit registers an invocation and runs it in the background. The
// returned snapshot is taken before the workflow starts.
func (s *SeriesService) Submit(ctx context.Context, req domain.DownloadRequest) (domain.Invocation, error) {
	if err := req.Validate(); err != nil {
		return domain.Invocation{}, err
	}
	if err := s.ctx.Err(); err != nil {
		return domain.Invocation{}, fmt.Errorf("series service stopped: %w", domain.ErrUnavailable)
	}

	inv := s.register(ctx, req)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, inv.ID, req)
	}()

	return inv, nil
}

// Get returns an invocation by ID, falling back to history for invocations
// of earlier runs.
func (s *SeriesService) Get(ctx context.Context, id string) (domain.Invocation, error) {
	if inv, ok := s.registry.Get(id); ok {
		return inv, nil
	}

	inv, err := s.history.Get(ctx, id)
	if err != nil {
		return domain.Invocation{}, err
	}
	return *inv, nil
}

// Wait blocks until the invocation has an outcome or ctx is done.
func (s *SeriesService) Wait(ctx context.Context, id string) (domain.Outcome, error) {
	outcome, found, err := s.registry.Await(ctx, id)
	if found {
		return outcome, err
	}

	inv, err := s.history.Get(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !inv.Done() {
		// Interrupted by a shutdown of an earlier run.
		return domain.Outcome{}, fmt.Errorf("invocation %s never finished: %w", id, domain.ErrUnavailable)
	}
	return *inv.Outcome, nil
}

// List returns recent invocations, newest first. Live invocations take
// precedence over their persisted copies.
func (s *SeriesService) List(ctx context.Context, limit int) ([]domain.Invocation, error) {
	live := s.registry.List()

	persisted, err := s.history.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(live))
	for _, inv := range live {
		seen[inv.ID] = true
	}
	list := live
	for _, inv := range persisted {
		if !seen[inv.ID] {
			list = append(list, inv)
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ActiveCount returns the number of running invocations.
func (s *SeriesService) ActiveCount() int {
	return s.registry.ActiveCount()
}

// Shutdown cancels background invocations and waits for them to return.
func (s *SeriesService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *SeriesService) register(ctx context.Context, req domain.DownloadRequest) domain.Invocation {
	inv := domain.NewInvocation(s.newID(), req, s.now())
	s.registry.Add(inv)
	snapshot, _ := s.registry.Get(inv.ID)

	s.save(ctx, snapshot)
	s.logger.Info("invocation registered",
		"id", inv.ID,
		"files", req.ExpectedFiles(),
		"format", req.Format,
	)
	return snapshot
}

// run drives one invocation through its stages. Each stage failure ends
// the invocation in the terminal state that belongs to that stage.
func (s *SeriesService) run(ctx context.Context, id string, req domain.DownloadRequest) domain.Outcome {
	if err := s.transition(ctx, id, domain.StateDownloading); err != nil {
		return s.abort(id, err)
	}

	dir, err := s.createStagingDir()
	if err != nil {
		return s.finish(ctx, id, domain.StateDownloadFailed, "", err)
	}
	s.registry.SetStagingDir(id, dir)
	s.logger.Debug("staging directory created", "id", id, "dir", dir)

	files, err := s.coordinator.Download(ctx, req, dir)
	if err != nil {
		return s.finish(ctx, id, domain.StateDownloadFailed, dir, err)
	}
	size, empty := stagedTotals(files)
	s.logger.Debug("series downloaded", "id", id, "files", len(files), "bytes", size, "empty", empty)

	if err := s.transition(ctx, id, domain.StatePollingReadiness); err != nil {
		return s.abort(id, err)
	}
	if _, err := s.poller.Await(ctx, dir, req.Extension(), req.ExpectedFiles()); err != nil {
		return s.finish(ctx, id, domain.StateReadinessTimedOut, dir, err)
	}

	if err := s.transition(ctx, id, domain.StateLaunchingViewer); err != nil {
		return s.abort(id, err)
	}
	if err := s.launcher.Launch(ctx, dir); err != nil {
		return s.finish(ctx, id, domain.StateLaunchFailed, dir, err)
	}

	return s.finish(ctx, id, domain.StateSucceeded, dir, nil)
}

// stagedTotals sums the bytes written and counts files that are still empty.
// Empty files keep the readiness poll waiting.
func stagedTotals(files []domain.StagedFile) (size int64, empty int) {
	for _, f := range files {
		size += f.Size
		if !f.Ready() {
			empty++
		}
	}
	return size, empty
}

func (s *SeriesService) createStagingDir() (string, error) {
	if err := s.staging.Fs.MkdirAll(s.staging.Root, 0o755); err != nil {
		return "", fmt.Errorf("creating staging root: %w", err)
	}
	dir, err := afero.TempDir(s.staging.Fs, s.staging.Root, s.staging.Prefix)
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

func (s *SeriesService) transition(ctx context.Context, id string, to domain.State) error {
	inv, err := s.registry.Transition(id, to)
	if err != nil {
		return err
	}
	s.save(ctx, inv)
	return nil
}

func (s *SeriesService) finish(ctx context.Context, id string, state domain.State, dir string, cause error) domain.Outcome {
	outcome := domain.Outcome{
		State:      state,
		Reason:     domain.ReasonFor(state),
		StagingDir: dir,
	}

	inv, err := s.registry.Finish(id, outcome, s.now())
	if err != nil {
		s.logger.Error("invocation outcome rejected", "id", id, "state", state, "error", err)
		return outcome
	}

	s.metrics.IncInvocations(string(state))
	s.metrics.ObserveInvocationDuration(string(state), inv.Duration(s.now()))

	// Persist even when the workflow context has been canceled.
	if s.save(context.WithoutCancel(ctx), inv) {
		s.registry.Prune()
	}

	if cause != nil {
		s.logger.Warn("invocation failed",
			"id", id,
			"state", state,
			"reason", outcome.Reason,
			"dir", dir,
			"error", cause,
		)
	} else {
		s.logger.Info("invocation succeeded",
			"id", id,
			"dir", dir,
			"files", inv.Request.ExpectedFiles(),
			"duration", inv.Duration(s.now()),
		)
	}

	return outcome
}

// abort handles a rejected state transition. It only happens if run is
// driven twice for one invocation.
func (s *SeriesService) abort(id string, err error) domain.Outcome {
	s.logger.Error("invocation aborted", "id", id, "error", err)
	if inv, ok := s.registry.Get(id); ok && inv.Done() {
		return *inv.Outcome
	}
	return domain.OutcomeFromError(err, "")
}

// save persists a snapshot and reports whether it was stored.
func (s *SeriesService) save(ctx context.Context, inv domain.Invocation) bool {
	err := s.history.Save(ctx, inv)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to persist invocation", "id", inv.ID, "state", inv.State, "error", err)
	}
	return err == nil
}
