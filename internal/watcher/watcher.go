// Package watcher renders job manifests as they appear in a directory.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/engine"
	"github.com/web1havv/edsurf/internal/failure"
)

// Handler processes one manifest.
type Handler func(ctx context.Context, path string) error

type Watcher struct {
	dir           string
	handler       Handler
	log           *zap.Logger
	maxConcurrent int
	// settle is how long a manifest must stay unchanged before it is
	// handled.
	settle time.Duration

	fs     *fsnotify.Watcher
	sem    chan struct{}
	wg     sync.WaitGroup
	queued atomic.Int64
}

func New(dir string, maxConcurrent int, settle time.Duration, handler Handler, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	maxConcurrent = max(maxConcurrent, 1)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, failure.Wrap(failure.ConfigError, "watcher.New", err, "fsnotify")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, failure.Wrap(failure.ConfigError, "watcher.New", err, "watch %s", dir)
	}
	return &Watcher{
		dir:           dir,
		handler:       handler,
		log:           log,
		maxConcurrent: maxConcurrent,
		settle:        settle,
		fs:            fw,
		sem:           make(chan struct{}, maxConcurrent),
	}, nil
}

// Run dispatches manifests until ctx is done, then waits for the jobs in
// progress.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("наблюдение за заданиями", zap.String("dir", w.dir), zap.Int("max_concurrent", w.maxConcurrent))

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("ожидание текущих заданий")
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsManifest(ev.Name) {
				w.log.Debug("файл пропущен", zap.String("path", ev.Name))
				continue
			}
			name := ev.Name
			if t, ok := timers[name]; ok {
				// a fired timer is already waiting on ready
				if t.Stop() {
					t.Reset(w.settle)
				}
				continue
			}
			timers[name] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			w.dispatch(ctx, name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.Error("ошибка наблюдения", zap.Error(err))
		}
	}
}

// dispatch starts a goroutine that waits for a free slot, so the event
// loop keeps draining fsnotify while jobs run.
func (w *Watcher) dispatch(ctx context.Context, name string) {
	w.wg.Add(1)
	if q := w.queued.Add(1); q > 1 {
		w.log.Info("задание в очереди", zap.String("path", name), zap.Int64("queued", q))
	}
	go func() {
		defer w.wg.Done()
		select {
		case w.sem <- struct{}{}:
			w.queued.Add(-1)
		case <-ctx.Done():
			w.queued.Add(-1)
			return
		}
		defer func() { <-w.sem }()
		w.log.Info("новое задание", zap.String("path", name))
		if err := w.handler(ctx, name); err != nil {
			w.log.Error("задание не выполнено", zap.String("path", name), zap.Error(err))
		}
	}()
}

// Queued is the number of manifests waiting for a free slot.
func (w *Watcher) Queued() int { return int(w.queued.Load()) }

func (w *Watcher) Close() error {
	return w.fs.Close()
}

// IsManifest reports whether path names a job manifest. Hidden files are
// editor swap files or partial writes.
func IsManifest(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// RunJobs is a Handler that loads the manifest and renders it with e.
func RunJobs(e *engine.Engine) Handler {
	return func(ctx context.Context, path string) error {
		job, err := engine.LoadJob(path)
		if err != nil {
			return err
		}
		_, err = e.Run(ctx, job)
		return err
	}
}
