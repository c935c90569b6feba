package indexing

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cognidesk/cognidesk/pkg/document"
)

// WatcherConfig configures folder watching for automatic reindexing.
type WatcherConfig struct {
	// Folder is the directory watched for documents. Empty disables
	// watching.
	Folder string `yaml:"folder,omitempty"`

	// DebounceDelay coalesces rapid events per file (default: 500ms).
	DebounceDelay time.Duration `yaml:"debounce_delay,omitempty"`

	// Extensions limits which files are indexed. Empty means all
	// extractor-supported formats plus plain text.
	Extensions []string `yaml:"extensions,omitempty"`
}

func (c *WatcherConfig) SetDefaults() {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 500 * time.Millisecond
	}
}

// Watcher keeps the index in sync with a documents folder. File writes
// queue the file for reindexing, removals delete it from the index.
type Watcher struct {
	cfg       WatcherConfig
	manager   *Manager
	extractor *document.Extractor
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a folder watcher feeding the given manager.
func NewWatcher(cfg WatcherConfig, manager *Manager, extractor *document.Extractor) (*Watcher, error) {
	cfg.SetDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:       cfg,
		manager:   manager,
		extractor: extractor,
		watcher:   fsw,
		pending:   make(map[string]fsnotify.Op),
	}, nil
}

// Start watches the folder tree and processes events until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.cfg.Folder); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(runCtx)

	slog.Info("Watching documents folder", "folder", w.cfg.Folder)
	return nil
}

// Stop closes the watcher and waits for in-flight event handling.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.watcher.Close(); err != nil {
		slog.Warn("Folder watcher close failed", "error", err)
	}
	w.wg.Wait()
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						slog.Warn("Cannot watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			w.enqueue(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Folder watcher error", "folder", w.cfg.Folder, "error", err)
		}
	}
}

// enqueue coalesces rapid events per file before handling them.
func (w *Watcher) enqueue(ctx context.Context, event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] |= event.Op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.DebounceDelay, func() {
		w.mu.Lock()
		batch := w.pending
		w.pending = make(map[string]fsnotify.Op)
		w.mu.Unlock()

		for path, op := range batch {
			w.handle(ctx, path, op)
		}
	})
}

func (w *Watcher) handle(ctx context.Context, path string, op fsnotify.Op) {
	if !w.wanted(path) {
		return
	}
	docID := w.documentID(path)

	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if err := w.manager.DeleteDocument(ctx, docID); err != nil {
			slog.Debug("Watched file not in index", "path", path, "error", err)
		} else {
			slog.Info("Removed document for deleted file", "path", path)
		}
		return
	}

	extracted, err := w.extractor.Extract(ctx, path)
	if err != nil {
		slog.Warn("Cannot extract watched file", "path", path, "error", err)
		return
	}

	metadata := map[string]interface{}{"path": path}
	if extracted.Title != "" {
		metadata["title"] = extracted.Title
	}
	for k, v := range extracted.Metadata {
		metadata[k] = v
	}

	if _, err := w.manager.IndexDocument(ctx, document.Document{
		ID:        docID,
		Content:   extracted.Content,
		Source:    path,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}); err != nil {
		slog.Warn("Cannot queue watched file", "path", path, "error", err)
		return
	}
	slog.Info("Queued watched file for indexing", "path", path)
}

// wanted reports whether the file extension is indexable.
func (w *Watcher) wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// documentID derives a stable ID from the path relative to the watched
// folder, so rewrites of the same file replace the same document.
func (w *Watcher) documentID(path string) string {
	rel, err := filepath.Rel(w.cfg.Folder, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	rel = strings.NewReplacer("/", "_", ".", "_", " ", "_").Replace(rel)
	return "file_" + rel
}
