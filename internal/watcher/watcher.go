// Package watcher notifies callers about file changes inside a directory.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/droneai/review-agent/internal/logging"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FSWatcher watches a single directory (non-recursively) with fsnotify.
type FSWatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	callback func(path string, event EventType)
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

func NewFSWatcher(logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FSWatcher{logger: logger}
}

// Watch starts watching path. Events are delivered until ctx is cancelled or
// Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	w.logger.Info("watching directory", "path", logging.SanitizePath(path))
	go w.loop(ctx, fsw, w.done)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			fsw.Close()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			kind, ok := mapEvent(ev)
			if !ok {
				continue
			}
			w.mu.Lock()
			cb := w.callback
			w.mu.Unlock()
			if cb != nil {
				cb(ev.Name, kind)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func mapEvent(ev fsnotify.Event) (EventType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreate, true
	case ev.Has(fsnotify.Write):
		return EventModify, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return EventDelete, true
	default:
		return 0, false
	}
}

// Stop closes the underlying watcher and waits for the event loop to exit.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw, w.done = nil, nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}
