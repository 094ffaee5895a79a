package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mwiater/ragguard/internal/logging"
)

// FileOp is the indexing action a file event triggers.
type FileOp int

const (
	FileIndexed FileOp = iota
	FileRemoved
)

// WatchEvent reports the outcome of handling one file change.
type WatchEvent struct {
	Path   string
	Op     FileOp
	Chunks int
	Err    error
}

// Watcher keeps the index in step with a corpus directory.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher
}

// NewWatcher creates a Watcher that re-ingests through indexer.
func NewWatcher(indexer *Indexer) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{indexer: indexer, watcher: w}, nil
}

// Watch monitors root and its subdirectories until ctx is done. Created and
// written files are re-ingested; removed and renamed files are dropped from
// the index. Each handled change is sent on the returned channel, which is
// closed when watching stops.
func (w *Watcher) Watch(ctx context.Context, root string) (<-chan WatchEvent, error) {
	if err := w.addTree(root); err != nil {
		return nil, err
	}

	events := make(chan WatchEvent, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				result, handled := w.handle(ctx, event)
				if !handled {
					continue
				}
				select {
				case events <- result:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logging.LogEvent("[RAG] watcher error: %v", err)
			}
		}
	}()
	return events, nil
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) (WatchEvent, bool) {
	path := event.Name
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if event.Has(fsnotify.Create) {
				if err := w.addTree(path); err != nil {
					logging.LogEvent("[RAG] watch %s: %v", path, err)
				}
			}
			return WatchEvent{}, false
		}
		if !w.indexer.Accepts(path) {
			return WatchEvent{}, false
		}
		n, err := w.indexer.IngestFile(ctx, path)
		if err != nil {
			logging.LogEvent("[RAG] re-index %s failed: %v", path, err)
		} else {
			logging.LogEvent("[RAG] re-indexed %s (%d chunks)", path, n)
		}
		return WatchEvent{Path: path, Op: FileIndexed, Chunks: n, Err: err}, true
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if !w.indexer.Accepts(path) {
			return WatchEvent{}, false
		}
		n, err := w.indexer.RemoveFile(ctx, path)
		if err != nil {
			logging.LogEvent("[RAG] remove %s failed: %v", path, err)
		} else {
			logging.LogEvent("[RAG] removed %s (%d chunks)", path, n)
		}
		return WatchEvent{Path: path, Op: FileRemoved, Chunks: n, Err: err}, true
	}
	return WatchEvent{}, false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.indexer.filter().excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
