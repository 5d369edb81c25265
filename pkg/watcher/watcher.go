// Package watcher queues the files written to managed repositories for
// scanning as soon as they settle.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/types"
)

const defaultDebounce = 2 * time.Second

// Queue receives the settled files.
type Queue interface {
	QueueFile(repoID, path string) (string, error)
}

type Option struct {
	Repositories []types.ManagedRepository
	Queue        Queue
	// Debounce is how long a file must stay untouched before it is queued.
	Debounce time.Duration
	Clock    clock.WithTicker
}

type Watcher struct {
	repos    []types.ManagedRepository
	queue    Queue
	debounce time.Duration
	clock    clock.WithTicker
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // absolute path -> last event
}

func New(opt Option) (*Watcher, error) {
	if opt.Debounce <= 0 {
		opt.Debounce = defaultDebounce
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Errorf("failed to initialize filesystem watcher: %w", err)
	}
	w := &Watcher{
		repos:    opt.Repositories,
		queue:    opt.Queue,
		debounce: opt.Debounce,
		clock:    opt.Clock,
		fsw:      fsw,
		logger:   slog.Default().With(slog.String("component", "watcher")),
		pending:  make(map[string]time.Time),
	}
	for _, repo := range opt.Repositories {
		if err = w.addTree(repo.Location, false); err != nil {
			fsw.Close()
			return nil, xerrors.Errorf("unable to watch %s: %w", repo.ID, err)
		}
	}
	return w, nil
}

// Run processes filesystem events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	ticker := w.clock.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", slog.Any("error", err))
		case <-ticker.C():
			w.flush()
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return // already gone, e.g. a renamed temp file
	}
	if info.IsDir() {
		// files may have been written before the directory was watched
		if err = w.addTree(event.Name, true); err != nil {
			w.logger.Warn("Unable to watch directory", slog.String("path", event.Name), slog.Any("error", err))
		}
		return
	}
	w.touch(event.Name)
}

func (w *Watcher) touch(path string) {
	if _, rel, ok := w.resolve(path); !ok || ignored(rel) {
		return
	}
	w.mu.Lock()
	w.pending[path] = w.clock.Now()
	w.mu.Unlock()
}

// ignored reports files not worth a scan of their own, such as metadata
// or checksums.
func ignored(rel string) bool {
	return fileutil.IsHidden(rel) || layout.IsMetadata(rel) || layout.IsSupportFile(rel)
}

// flush queues the files without events for at least the debounce period.
func (w *Watcher) flush() {
	now := w.clock.Now()
	var settled []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		repo, rel, ok := w.resolve(path)
		if !ok {
			continue
		}
		if _, err := w.queue.QueueFile(repo.ID, rel); err != nil {
			w.logger.Error("Unable to queue file", slog.String("repository", repo.ID), slog.String("path", rel), slog.Any("error", err))
			continue
		}
		w.logger.Debug("File queued", slog.String("repository", repo.ID), slog.String("path", rel))
	}
}

// addTree watches dir and its subdirectories. With touchFiles the files
// found are treated as written.
func (w *Watcher) addTree(dir string, touchFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if touchFiles {
				w.touch(path)
			}
			return nil
		}
		if err = w.fsw.Add(path); err != nil {
			return xerrors.Errorf("watch error: %w", err)
		}
		return nil
	})
}

// resolve finds the repository holding an absolute path.
func (w *Watcher) resolve(path string) (types.ManagedRepository, string, bool) {
	for _, repo := range w.repos {
		rel, err := filepath.Rel(repo.Location, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return repo, filepath.ToSlash(rel), true
	}
	return types.ManagedRepository{}, "", false
}
