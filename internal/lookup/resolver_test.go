package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpad/inkpad"
)

func newLinkedDoc(t *testing.T) *inkpad.Document {
	t.Helper()
	doc := inkpad.NewDocument(inkpad.DefaultSchema())
	_, err := doc.InsertNode(-1, inkpad.Node{
		ID:   "para-1",
		Type: inkpad.ParagraphType,
		Text: "See the Roadmap for details",
	})
	require.NoError(t, err)
	require.NoError(t, doc.ApplyMark("para-1", 8, 15, inkpad.NewWikiLinkPlaceholder()))
	return doc
}

func TestResolverFunc(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record{DocID: "doc-1", Title: "Roadmap"}))

	r := NewResolver(store, nil)
	resolve := r.ResolverFunc(ctx)

	ref, ok := resolve("Roadmap")
	require.True(t, ok)
	assert.Equal(t, "doc-1", ref.DocID)
	assert.Equal(t, "Roadmap", ref.DocTitle)

	_, ok = resolve("Nonexistent Page")
	assert.False(t, ok)
}

func TestResolvePlaceholders(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil)
	doc := newLinkedDoc(t)

	ref := inkpad.DocumentReference{DocID: "doc-1", DocTitle: "Roadmap"}
	updated, err := r.Resolve(doc, "para-1", ref)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	n, err := doc.Node("para-1")
	require.NoError(t, err)
	require.Len(t, n.Marks, 1)
	got, err := inkpad.WikiLinkRef(n.Marks[0].Mark)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestRenamePropagatesToTrackedDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record{DocID: "doc-1", Title: "Roadmap"}))

	r := NewResolver(store, nil)
	doc := newLinkedDoc(t)
	ref := inkpad.DocumentReference{DocID: "doc-1", DocTitle: "Roadmap"}
	_, err := r.Resolve(doc, "para-1", ref)
	require.NoError(t, err)

	cancel := r.Track(doc)
	defer cancel()

	require.NoError(t, r.Rename(ctx, "doc-1", "Roadmap 2026"))

	// The store and the open document both reflect the new title.
	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap 2026", rec.Title)

	n, err := doc.Node("para-1")
	require.NoError(t, err)
	got, err := inkpad.WikiLinkRef(n.Marks[0].Mark)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap 2026", got.DocTitle)
	// The visible text span is untouched.
	assert.Equal(t, "See the Roadmap for details", n.Text)
}

func TestRenameSkipsUntrackedDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record{DocID: "doc-1", Title: "Roadmap"}))

	r := NewResolver(store, nil)
	doc := newLinkedDoc(t)
	ref := inkpad.DocumentReference{DocID: "doc-1", DocTitle: "Roadmap"}
	_, err := r.Resolve(doc, "para-1", ref)
	require.NoError(t, err)

	cancel := r.Track(doc)
	cancel()

	require.NoError(t, r.Rename(ctx, "doc-1", "Roadmap 2026"))

	n, err := doc.Node("para-1")
	require.NoError(t, err)
	got, err := inkpad.WikiLinkRef(n.Marks[0].Mark)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", got.DocTitle, "untracked documents keep the old title")
}

func TestRenameUnknownDocument(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil)
	assert.ErrorIs(t, r.Rename(context.Background(), "missing", "X"), ErrNotFound)
}
