package lookup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
)

// Resolver binds the document index to open documents: it resolves
// placeholder wiki links and propagates rename notifications so link titles
// do not go stale.
type Resolver struct {
	store  Store
	logger *zap.Logger

	mu   sync.RWMutex
	docs map[*inkpad.Document]struct{}
}

// NewResolver creates a resolver over the given store. A nil logger disables
// diagnostics.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		docs:   make(map[*inkpad.Document]struct{}),
	}
}

// Track registers an open document for rename propagation. The returned
// cancel function stops tracking.
func (r *Resolver) Track(doc *inkpad.Document) func() {
	r.mu.Lock()
	r.docs[doc] = struct{}{}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.docs, doc)
		r.mu.Unlock()
	}
}

// Search returns candidate references for a free-text query.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	return r.store.Search(ctx, query, limit)
}

// ResolverFunc adapts the store into the markdown importer's LinkResolver:
// the best search match for a target title wins, anything else stays a
// placeholder.
func (r *Resolver) ResolverFunc(ctx context.Context) inkpad.LinkResolver {
	return func(target string) (inkpad.DocumentReference, bool) {
		candidates, err := r.store.Search(ctx, target, 1)
		if err != nil {
			r.logger.Warn("link resolution failed", zap.String("target", target), zap.Error(err))
			return inkpad.DocumentReference{}, false
		}
		if len(candidates) == 0 {
			return inkpad.DocumentReference{}, false
		}
		return inkpad.DocumentReference{DocID: candidates[0].DocID, DocTitle: candidates[0].Title}, true
	}
}

// Resolve rewrites the placeholder wiki links on a node to the given
// reference, leaving the text spans untouched.
func (r *Resolver) Resolve(doc *inkpad.Document, nodeID string, ref inkpad.DocumentReference) (int, error) {
	return inkpad.ResolveWikiLinks(doc, nodeID, func(cur inkpad.DocumentReference) bool {
		return !cur.Resolved()
	}, ref)
}

// Rename records a new title for a document and rewrites every matching
// wiki-link mark in all tracked documents. Marks that cannot be reached stay
// stale by design; the next rename notification repairs them too.
func (r *Resolver) Rename(ctx context.Context, docID, title string) error {
	if err := r.store.Rename(ctx, docID, title); err != nil {
		return err
	}
	ref := inkpad.DocumentReference{DocID: docID, DocTitle: title}
	match := func(cur inkpad.DocumentReference) bool { return cur.DocID == docID }

	r.mu.RLock()
	docs := make([]*inkpad.Document, 0, len(r.docs))
	for d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.RUnlock()

	total := 0
	for _, d := range docs {
		for _, n := range d.Nodes() {
			updated, err := inkpad.ResolveWikiLinks(d, n.ID, match, ref)
			if err != nil {
				r.logger.Warn("rename propagation failed",
					zap.String("docId", docID), zap.String("node", n.ID), zap.Error(err))
				continue
			}
			total += updated
		}
	}
	r.logger.Debug("rename propagated",
		zap.String("docId", docID), zap.String("title", title), zap.Int("marks", total))
	return nil
}
