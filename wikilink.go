package inkpad

import (
	"fmt"
)

// WikiLinkType is the mark type tag for wiki-style cross-document links.
const WikiLinkType = "wiki-link"

// Reserved persisted-form attributes. Caller-supplied attributes can never
// override these; they preserve round-trip identity.
const (
	attrDataType = "data-type"
	attrDocID    = "data-doc-id"
	attrDocTitle = "data-doc-title"
	attrClass    = "class"

	// WikiLinkClass is the stable CSS class emitted on every persisted
	// wiki-link element.
	WikiLinkClass = "inkpad-wiki-link"
)

func wikiLinkSpec() MarkSpec {
	return MarkSpec{
		Type:      WikiLinkType,
		Exclusive: true,
		Attrs: []Attribute{
			{Name: "docId", Spec: AttributeSpec{Default: nil}},
			{Name: "docTitle", Spec: AttributeSpec{Default: nil}},
		},
	}
}

// DocumentReference identifies the target of a wiki link. A reference is
// either resolved (both fields set) or a placeholder (both empty); mixed
// forms are rejected so the UI can rely on the pairing.
type DocumentReference struct {
	DocID    string
	DocTitle string
}

// Resolved reports whether the reference points at a concrete document.
func (r DocumentReference) Resolved() bool {
	return r.DocID != "" && r.DocTitle != ""
}

func (r DocumentReference) validate() error {
	if (r.DocID == "") != (r.DocTitle == "") {
		return NewValidationError(WikiLinkType, "docId and docTitle must both be set or both be empty")
	}
	return nil
}

// NewWikiLink creates a wiki-link mark for a resolved or placeholder
// reference.
func NewWikiLink(ref DocumentReference) (Mark, error) {
	if err := ref.validate(); err != nil {
		return Mark{}, err
	}
	attrs := map[string]any{"docId": nil, "docTitle": nil}
	if ref.Resolved() {
		attrs["docId"] = ref.DocID
		attrs["docTitle"] = ref.DocTitle
	}
	return Mark{Type: WikiLinkType, Attrs: attrs}, nil
}

// NewWikiLinkPlaceholder creates an unresolved wiki-link mark, used while the
// user is still selecting a target document.
func NewWikiLinkPlaceholder() Mark {
	m, _ := NewWikiLink(DocumentReference{})
	return m
}

// WikiLinkRef extracts the reference carried by a wiki-link mark.
func WikiLinkRef(m Mark) (DocumentReference, error) {
	if m.Type != WikiLinkType {
		return DocumentReference{}, fmt.Errorf("%w: mark type %q", ErrNotRecognized, m.Type)
	}
	ref := DocumentReference{}
	if v, ok := m.Attrs["docId"].(string); ok {
		ref.DocID = v
	}
	if v, ok := m.Attrs["docTitle"].(string); ok {
		ref.DocTitle = v
	}
	if err := ref.validate(); err != nil {
		return DocumentReference{}, err
	}
	return ref, nil
}

// PersistedElement is the serialized form of an inline or block element in
// the persisted document: a tag, flat string attributes, and text content.
type PersistedElement struct {
	Tag     string
	Attrs   map[string]string
	Content string
}

// ParseWikiLink recognizes a persisted inline element as a wiki link by its
// data-type discriminator and extracts the reference. Elements without the
// discriminator return ErrNotRecognized so unrelated anchors are never
// adopted; a discriminated element with inconsistent attributes is a
// ValidationError.
func ParseWikiLink(el PersistedElement) (Mark, error) {
	if el.Attrs[attrDataType] != WikiLinkType {
		return Mark{}, fmt.Errorf("%w: missing %s=%q", ErrNotRecognized, attrDataType, WikiLinkType)
	}
	ref := DocumentReference{
		DocID:    el.Attrs[attrDocID],
		DocTitle: el.Attrs[attrDocTitle],
	}
	m, err := NewWikiLink(ref)
	if err != nil {
		return Mark{}, err
	}
	return m, nil
}

// RenderWikiLink emits the persisted form of a wiki-link mark: an anchor-like
// element carrying the discriminator, the stable CSS class, and the reference
// attributes. extra attributes are merged first, then reserved keys are
// written over them, so callers cannot forge or break the discriminator.
func RenderWikiLink(m Mark, extra map[string]string) (PersistedElement, error) {
	ref, err := WikiLinkRef(m)
	if err != nil {
		return PersistedElement{}, err
	}
	attrs := make(map[string]string, len(extra)+4)
	for k, v := range extra {
		attrs[k] = v
	}
	class := WikiLinkClass
	if c := extra[attrClass]; c != "" {
		class = WikiLinkClass + " " + c
	}
	attrs[attrDataType] = WikiLinkType
	attrs[attrClass] = class
	if ref.Resolved() {
		attrs[attrDocID] = ref.DocID
		attrs[attrDocTitle] = ref.DocTitle
	} else {
		delete(attrs, attrDocID)
		delete(attrs, attrDocTitle)
	}
	return PersistedElement{Tag: "a", Attrs: attrs}, nil
}

// ApplyWikiLink places a wiki-link mark over [from, to) of a text block.
// Wiki-link marks are exclusive: any existing wiki link overlapping the span
// is replaced, never stacked.
func ApplyWikiLink(doc *Document, nodeID string, from, to int, ref DocumentReference) error {
	m, err := NewWikiLink(ref)
	if err != nil {
		return err
	}
	return doc.ApplyMark(nodeID, from, to, m)
}

// ResolveWikiLinks rewrites every placeholder or matching wiki-link mark on a
// node to the given reference. Used when the user finishes selecting a target
// or when a rename notification arrives; the underlying text spans are never
// touched. Returns the number of marks updated.
func ResolveWikiLinks(doc *Document, nodeID string, match func(DocumentReference) bool, ref DocumentReference) (int, error) {
	if err := ref.validate(); err != nil {
		return 0, err
	}
	attrs := map[string]any{"docId": nil, "docTitle": nil}
	if ref.Resolved() {
		attrs["docId"] = ref.DocID
		attrs["docTitle"] = ref.DocTitle
	}
	return doc.UpdateMarkAttrs(nodeID, WikiLinkType, func(a map[string]any) bool {
		if match == nil {
			return true
		}
		cur := DocumentReference{}
		if v, ok := a["docId"].(string); ok {
			cur.DocID = v
		}
		if v, ok := a["docTitle"].(string); ok {
			cur.DocTitle = v
		}
		return match(cur)
	}, attrs)
}
