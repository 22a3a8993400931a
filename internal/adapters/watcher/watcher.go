// Package watcher reports changes to staged files in series directories.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation is the net change to a staged file over one debounce window.
type Operation int

const (
	// OpCreate means the file appeared.
	OpCreate Operation = iota
	// OpWrite means an existing file received data.
	OpWrite
	// OpRemove means the file is gone, by removal or rename.
	OpRemove
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a settled change to one staged file.
type Event struct {
	Path      string
	Operation Operation
}

// Handler receives settled events. Calls are serialized.
type Handler func(ctx context.Context, event Event) error

// Config configures a Watcher.
type Config struct {
	// Paths are the directories to watch. Subdirectories are not followed.
	Paths []string
	// Extension limits events to files with this suffix. Empty matches all.
	Extension string
	// Debounce is how long a file must be quiet before its event is emitted.
	// Zero emits on the next tick.
	Debounce time.Duration
}

// Watcher coalesces fsnotify events per file and hands them to a Handler
// once the file has been quiet for the debounce window.
type Watcher struct {
	fsw       *fsnotify.Watcher
	cfg       Config
	handler   Handler
	logger    *slog.Logger
	tick      time.Duration
	mu        sync.Mutex
	pending   map[string]pending
	done      chan struct{}
	stopOnce  sync.Once
	loopGroup sync.WaitGroup
}

type pending struct {
	op   Operation
	last time.Time
}

const minTick = 10 * time.Millisecond

// New creates a watcher for the configured directories. The directories are
// registered immediately so a missing path fails here rather than in Start.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	for _, p := range cfg.Paths {
		if err := fsw.Add(p); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}

	tick := cfg.Debounce / 2
	if tick < minTick {
		tick = minTick
	}

	return &Watcher{
		fsw:     fsw,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		tick:    tick,
		pending: make(map[string]pending),
		done:    make(chan struct{}),
	}, nil
}

// Start begins delivering events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.loopGroup.Add(1)
	go w.run(ctx)

	w.logger.Debug("watching staging directories", "paths", w.cfg.Paths, "extension", w.cfg.Extension)
	return nil
}

// Stop closes the underlying watcher and waits for the event loop to exit.
// It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.loopGroup.Wait()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.loopGroup.Done()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(ev, time.Now())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event, now time.Time) {
	op, ok := translate(ev.Op)
	if !ok || !hasExtension(ev.Name, w.cfg.Extension) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev, seen := w.pending[ev.Name]
	if seen {
		op = merge(prev.op, op)
	}
	w.pending[ev.Name] = pending{op: op, last: now}
}

// flush emits every pending event that has been quiet for the debounce
// window, in path order.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []Event
	for path, p := range w.pending {
		if now.Sub(p.last) >= w.cfg.Debounce {
			due = append(due, Event{Path: path, Operation: p.op})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Path < due[j].Path })

	for _, e := range due {
		if err := w.handler(ctx, e); err != nil {
			w.logger.Warn("handling staged file event", "path", e.Path, "operation", e.Operation, "error", err)
		}
	}
}

// translate maps an fsnotify op to an Operation. Permission changes do not
// affect presence or size and are dropped.
func translate(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpRemove, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	default:
		return 0, false
	}
}

// merge folds next into the pending operation for the same file.
func merge(prev, next Operation) Operation {
	if next != OpWrite {
		return next
	}
	if prev == OpRemove {
		return OpWrite
	}
	return prev
}

func hasExtension(path, ext string) bool {
	if ext == "" {
		return true
	}
	base := filepath.Base(path)
	return len(base) > len(ext) && strings.EqualFold(base[len(base)-len(ext):], ext)
}
