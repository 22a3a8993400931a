package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobrunner/seriesview/internal/ports/output"
)

// Notifier implements output.ChangeNotifier with one fsnotify watcher per
// subscription.
type Notifier struct {
	debounce time.Duration
	logger   *slog.Logger
}

var _ output.ChangeNotifier = (*Notifier)(nil)

// NewNotifier creates a change notifier.
func NewNotifier(debounce time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{debounce: debounce, logger: logger}
}

// Subscribe implements output.ChangeNotifier. Created and written files
// signal the channel; removals do not. Signals coalesce while unread.
func (n *Notifier) Subscribe(dir, ext string) (<-chan struct{}, func(), error) {
	changes := make(chan struct{}, 1)

	w, err := New(Config{
		Paths:     []string{dir},
		Extension: ext,
		Debounce:  n.debounce,
	}, func(_ context.Context, e Event) error {
		if e.Operation == OpRemove {
			return nil
		}
		select {
		case changes <- struct{}{}:
		default:
		}
		return nil
	}, n.logger)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		_ = w.Stop()
		return nil, nil, err
	}

	stop := func() {
		cancel()
		if err := w.Stop(); err != nil {
			n.logger.Debug("stopping watcher", "dir", dir, "error", err)
		}
	}
	return changes, stop, nil
}
