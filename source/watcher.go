package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/specauthority/canonical"
)

const eventChannelBuffer = 256

// WatchEvent reports a spec source file whose content changed.
type WatchEvent struct {
	// Path is relative to the watched root.
	Path string

	// AbsPath is the absolute file path.
	AbsPath string

	// ContentHash is the canonical hash of the new content.
	ContentHash string
}

// WatcherConfig configures spec source watching.
type WatcherConfig struct {
	// Globs select which files to watch, relative to the root.
	// doublestar patterns, so "specs/**/*.md" works.
	Globs []string `json:"globs" yaml:"globs"`

	// Debounce is how long to wait for further changes before emitting.
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// ExcludeDirs names directories to skip entirely.
	ExcludeDirs []string `json:"exclude_dirs" yaml:"exclude_dirs"`
}

// DefaultWatcherConfig returns the standard watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Globs:       []string{"**/*.md"},
		Debounce:    500 * time.Millisecond,
		ExcludeDirs: []string{".git", "node_modules", "vendor"},
	}
}

// Watcher watches a directory tree for spec content changes. Events are
// deduplicated by content hash, so touching a file without changing it emits
// nothing.
type Watcher struct {
	config  WatcherConfig
	root    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	hashMu sync.RWMutex
	hashes map[string]string

	events chan WatchEvent
}

// NewWatcher creates a Watcher over the given root directory.
func NewWatcher(config WatcherConfig, root string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.Globs) == 0 {
		config.Globs = DefaultWatcherConfig().Globs
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatcherConfig().Debounce
	}
	return &Watcher{
		config:  config,
		root:    root,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]struct{}),
		hashes:  make(map[string]string),
		events:  make(chan WatchEvent, eventChannelBuffer),
	}, nil
}

// Events returns the channel of change events. It is closed when the watcher
// stops.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Start begins watching. Watching stops when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)

	w.logger.Info("Spec source watcher started",
		slog.String("root", w.root),
		slog.Duration("debounce", w.config.Debounce))
	return nil
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SeedHash records a known content hash so unchanged files do not re-emit on
// the first event after startup.
func (w *Watcher) SeedHash(relPath, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[relPath] = hash
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if w.excluded(base) || (strings.HasPrefix(base, ".") && path != root) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) excluded(dir string) bool {
	for _, d := range w.config.ExcludeDirs {
		if d == dir {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", slog.String("error", err.Error()))
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !w.excluded(filepath.Base(path)) && !strings.HasPrefix(filepath.Base(path), ".") {
				_ = w.watcher.Add(path)
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || !w.matchesGlobs(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

// matchesGlobs reports whether the relative path matches any configured glob.
func (w *Watcher) matchesGlobs(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, glob := range w.config.Globs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := make([]string, 0, len(w.pending))
	for path := range w.pending {
		toProcess = append(toProcess, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, path := range toProcess {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			// Deleted between event and flush; drop the stale hash.
			w.hashMu.Lock()
			delete(w.hashes, rel)
			w.hashMu.Unlock()
			continue
		}

		hash := canonical.Hash(string(content))
		w.hashMu.Lock()
		previous, seen := w.hashes[rel]
		w.hashes[rel] = hash
		w.hashMu.Unlock()
		if seen && previous == hash {
			continue
		}

		select {
		case w.events <- WatchEvent{Path: rel, AbsPath: path, ContentHash: hash}:
			w.logger.Debug("Spec source changed",
				slog.String("path", rel),
				slog.String("hash", hash[:12]))
		default:
			w.logger.Warn("Event channel full, dropping change",
				slog.String("path", rel))
		}
	}
}
