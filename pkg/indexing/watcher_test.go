package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

func newTestWatcher(t *testing.T) (*Watcher, *Manager, kvstore.Store, string) {
	t.Helper()

	m, _, store := newTestManager(t)
	folder := t.TempDir()
	w, err := NewWatcher(WatcherConfig{Folder: folder}, m, document.NewExtractor())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.watcher.Close(); err != nil {
			t.Errorf("close watcher: %v", err)
		}
	})
	return w, m, store, folder
}

func TestWatcherQueuesWrittenFile(t *testing.T) {
	w, _, store, folder := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(folder, "policy.txt")
	if err := os.WriteFile(path, []byte("Refunds require a receipt."), 0o644); err != nil {
		t.Fatal(err)
	}

	w.handle(ctx, path, fsnotify.Write)

	n, err := store.ListLen(ctx, kvstore.KeyIndexingQueue)
	if err != nil || n != 1 {
		t.Fatalf("queue length = %d, err = %v", n, err)
	}
}

func TestWatcherStableDocumentID(t *testing.T) {
	w, m, _, folder := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(folder, "guides", "refund policy.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	id := w.documentID(path)
	if id != "file_guides_refund_policy_txt" {
		t.Errorf("documentID = %q", id)
	}

	// Two writes of the same file register one document.
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handle(ctx, path, fsnotify.Write)
	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handle(ctx, path, fsnotify.Write)

	doc, err := m.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want reindex bump", doc.Version)
	}
}

func TestWatcherRemoveDeletesDocument(t *testing.T) {
	w, m, _, folder := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(folder, "old.txt")
	if err := os.WriteFile(path, []byte("obsolete"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handle(ctx, path, fsnotify.Write)

	id := w.documentID(path)
	if _, err := m.GetDocument(ctx, id); err != nil {
		t.Fatal(err)
	}

	w.handle(ctx, path, fsnotify.Remove)
	if _, err := m.GetDocument(ctx, id); err == nil {
		t.Error("document should be gone after file removal")
	}
}

func TestWatcherIgnoresUnwantedFiles(t *testing.T) {
	w, _, store, folder := newTestWatcher(t)
	w.cfg.Extensions = []string{".md", ".txt"}
	ctx := context.Background()

	for _, name := range []string{".hidden", "draft.txt~", "binary.bin"} {
		path := filepath.Join(folder, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		w.handle(ctx, path, fsnotify.Write)
	}

	n, err := store.ListLen(ctx, kvstore.KeyIndexingQueue)
	if err != nil || n != 0 {
		t.Fatalf("queue length = %d, err = %v", n, err)
	}
}
