package application

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/jobrunner/seriesview/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockFetcher implements output.Fetcher for testing.
type mockFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string // URL -> body
	errs    map[string]error  // URL -> error
	opened  []string
	started chan string // optional, receives each URL as its fetch starts
	release chan struct{}
}

func (m *mockFetcher) Open(_ context.Context, u *url.URL) (io.ReadCloser, error) {
	key := u.String()

	m.mu.Lock()
	m.opened = append(m.opened, key)
	m.mu.Unlock()

	if m.started != nil {
		m.started <- key
	}
	if m.release != nil {
		<-m.release
	}

	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	body, ok := m.bodies[key]
	if !ok {
		return nil, &domain.FetchError{StatusCode: 404, Err: domain.ErrUnexpectedStatus}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *mockFetcher) openedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

// mockProcesses implements output.ProcessController for testing.
type mockProcesses struct {
	mu           sync.Mutex
	calls        []string // "terminate:<image>" or "start:<exe> <args>"
	terminateErr error
	startErr     error
	startArgs    []string
}

func (m *mockProcesses) Terminate(_ context.Context, imageName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "terminate:"+imageName)
	return m.terminateErr
}

func (m *mockProcesses) Start(_ context.Context, executable string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start:"+executable+" "+strings.Join(args, " "))
	m.startArgs = args
	return m.startErr
}

func (m *mockProcesses) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockHistory implements output.InvocationHistory for testing.
type mockHistory struct {
	mu     sync.Mutex
	saved  map[string]domain.Invocation
	states map[string][]domain.State
}

func newMockHistory() *mockHistory {
	return &mockHistory{
		saved:  make(map[string]domain.Invocation),
		states: make(map[string][]domain.State),
	}
}

func (m *mockHistory) Save(_ context.Context, inv domain.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[inv.ID] = inv
	m.states[inv.ID] = append(m.states[inv.ID], inv.State)
	return nil
}

func (m *mockHistory) Get(_ context.Context, id string) (*domain.Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.saved[id]
	if !ok {
		return nil, domain.ErrInvocationNotFound
	}
	return &inv, nil
}

func (m *mockHistory) List(_ context.Context, _ int) ([]domain.Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]domain.Invocation, 0, len(m.saved))
	for _, inv := range m.saved {
		list = append(list, inv)
	}
	return list, nil
}

func (m *mockHistory) statesOf(id string) []domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.State(nil), m.states[id]...)
}

// mockNotifier implements output.ChangeNotifier for testing.
type mockNotifier struct {
	changes      chan struct{}
	subscribeErr error
	stopped      bool
}

func (m *mockNotifier) Subscribe(_, _ string) (<-chan struct{}, func(), error) {
	if m.subscribeErr != nil {
		return nil, nil, m.subscribeErr
	}
	return m.changes, func() { m.stopped = true }, nil
}
