package roster

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
)

// FileSource serves the roster loaded from a CSV file and can reload it when the file changes.
// A reload that fails keeps the previous roster in effect.
type FileSource struct {
	path   string
	logger core.Logger

	mu      sync.RWMutex
	current *Roster

	debounce time.Duration
}

var _ Provider = (*FileSource)(nil)

// OpenFile loads the roster at path; the error is a core.ConfigError.
func OpenFile(path string, logger core.Logger) (*FileSource, error) {
	r, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		path:     path,
		logger:   logger,
		current:  r,
		debounce: 250 * time.Millisecond,
	}, nil
}

func (src *FileSource) Current() *Roster {
	src.mu.RLock()
	defer src.mu.RUnlock()
	return src.current
}

// Reload re-reads the roster file.
func (src *FileSource) Reload() error {
	r, err := LoadFile(src.path)
	if err != nil {
		return err
	}
	src.mu.Lock()
	src.current = r
	src.mu.Unlock()
	return nil
}

// Watch reloads the roster whenever its file is written, until ctx is done.
// Editors often replace files instead of writing them in place, so the parent directory is watched.
func (src *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating roster watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err = watcher.Add(filepath.Dir(src.path)); err != nil {
		return errors.Wrap(err, "watching roster directory")
	}
	target := filepath.Clean(src.path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			// debounce rapid saves
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(src.debounce)
			pending = timer.C

		case <-pending:
			pending = nil
			if err := src.Reload(); err != nil {
				src.logger.Warn(fmt.Sprintf("roster reload failed, keeping previous roster: %v", err), err)
				continue
			}
			src.logger.Info(fmt.Sprintf("roster reloaded: %d students", src.Current().Len()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			src.logger.Error(fmt.Sprintf("roster watcher: %v", err), err)
		}
	}
}
