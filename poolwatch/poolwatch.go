// Package poolwatch resizes a session pool when a pool settings file
// changes on disk. The file is JSON:
//
//	{"max_sessions": 4}
//
// The containing directory is watched so editors that replace the file by
// rename are picked up.
package poolwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Resizer is satisfied by *drmsession.Manager.
type Resizer interface {
	ResizePool(ctx context.Context, size int) error
}

// Settings is the file format.
type Settings struct {
	MaxSessions int `json:"max_sessions"`
}

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithDebounce coalesces bursts of file events. Zero reloads on every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// Watcher applies Settings from a file to a Resizer.
type Watcher struct {
	path     string
	target   Resizer
	log      *slog.Logger
	debounce time.Duration
	applied  int
}

func New(path string, target Resizer, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		log:      slog.Default(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run applies the current file, then every change to it, until ctx ends. A
// missing or invalid file is logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("poolwatch: new watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("poolwatch: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reload(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if w.debounce <= 0 {
				w.reload(ctx)
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.reload(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "poolwatch.watch.fail", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	s, err := readSettings(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.log.DebugContext(ctx, "poolwatch.missing", slog.String("path", w.path))
			return
		}
		w.log.WarnContext(ctx, "poolwatch.read.fail", slog.String("path", w.path), slog.String("err", err.Error()))
		return
	}
	if s.MaxSessions <= 0 {
		w.log.WarnContext(ctx, "poolwatch.invalid", slog.Int("max_sessions", s.MaxSessions))
		return
	}
	if s.MaxSessions == w.applied {
		return
	}
	if err := w.target.ResizePool(ctx, s.MaxSessions); err != nil {
		w.log.ErrorContext(ctx, "poolwatch.resize.fail", slog.Int("max_sessions", s.MaxSessions), slog.String("err", err.Error()))
		return
	}
	w.log.InfoContext(ctx, "poolwatch.resize", slog.Int("from", w.applied), slog.Int("to", s.MaxSessions))
	w.applied = s.MaxSessions
}

func readSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}
