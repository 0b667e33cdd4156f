package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
	"github.com/inkpad/inkpad/internal/lookup"
)

// Watcher keeps the lookup index in sync with the documents directory. New
// markdown files are indexed; a changed frontmatter title becomes a rename
// notification so wiki links in open documents get repaired.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rootDir  string
	store    lookup.Store
	resolver *lookup.Resolver
	logger   *zap.Logger
}

// NewWatcher creates a watcher over rootDir and its subdirectories.
func NewWatcher(rootDir string, store lookup.Store, resolver *lookup.Resolver, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		rootDir:  rootDir,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
	if err := w.addDirectoryRecursive(rootDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// addDirectoryRecursive watches dir and its subdirectories, skipping hidden
// ones.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info("watching documents", zap.String("dir", w.rootDir))

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// New subdirectories need watching too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := w.addDirectoryRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							zap.String("dir", event.Name), zap.Error(err))
					}
				}
				continue
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}
			if err := w.index(ctx, event.Name); err != nil {
				w.logger.Warn("failed to index document",
					zap.String("path", event.Name), zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}

// index reads a document's frontmatter and updates the lookup index. The
// filename stem stands in for a missing docId or title.
func (w *Watcher) index(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fm, err := inkpad.ReadFrontmatter(content)
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(path), ".md")
	docID := fm.DocID
	if docID == "" {
		docID = stem
	}
	title := fm.Title
	if title == "" {
		title = stem
	}

	prev, err := w.store.Get(ctx, docID)
	switch {
	case errors.Is(err, lookup.ErrNotFound):
		w.logger.Debug("indexing document",
			zap.String("docId", docID), zap.String("title", title))
		return w.store.Put(ctx, lookup.Record{DocID: docID, Title: title})
	case err != nil:
		return err
	case prev.Title != title:
		w.logger.Info("document renamed",
			zap.String("docId", docID),
			zap.String("from", prev.Title),
			zap.String("to", title))
		return w.resolver.Rename(ctx, docID, title)
	default:
		return nil
	}
}
