package inkpad

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// ParagraphType is the built-in plain text block type.
const ParagraphType = "paragraph"

// CodeFenceType is the built-in type for non-executable code listings. The
// text is verbatim code: it carries no marks and link syntax inside it is
// never interpreted.
const CodeFenceType = "code-fence"

// Mark is an inline annotation applied over a run of text. Marks carry only
// schema-declared attributes; they are non-structural.
type Mark struct {
	Type  string
	Attrs map[string]any
}

// MarkRange places a mark over [From, To) rune offsets of a text block.
type MarkRange struct {
	Mark Mark
	From int
	To   int
}

// Node is a structural document element. The document model exclusively owns
// its serializable attributes; views hold non-owning references only.
type Node struct {
	ID    string
	Type  string
	Attrs map[string]any

	// Text and Marks are populated for text block types.
	Text  string
	Marks []MarkRange
}

// ChangeKind identifies what a model mutation touched.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeAttrs
	ChangeText
	ChangeMarks
	ChangeRemove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeAttrs:
		return "attrs"
	case ChangeText:
		return "text"
	case ChangeMarks:
		return "marks"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change describes one committed model mutation. Subscribed views receive a
// Change for every mutation touching their node.
type Change struct {
	NodeID   string
	Kind     ChangeKind
	Revision int64
}

// Document holds an ordered sequence of nodes validated against a schema.
// All mutations go through model operations; views never assign attributes
// directly, so undo, serialization, and collaborative merge see a single
// source of truth. The mutex serializes mutations with observation; the model
// itself is driven from one logical thread.
type Document struct {
	mu     sync.RWMutex
	schema *Schema
	nodes  []*Node
	byID   map[string]*Node
	rev    int64

	subMu       sync.Mutex
	subscribers map[string][]chan Change // nodeID -> listeners
	nextSub     int
	subIndex    map[int]subscription
}

type subscription struct {
	nodeID string
	ch     chan Change
}

// NewDocument creates an empty document over the given schema. A nil schema
// uses DefaultSchema.
func NewDocument(schema *Schema) *Document {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Document{
		schema:      schema,
		byID:        make(map[string]*Node),
		subscribers: make(map[string][]chan Change),
		subIndex:    make(map[int]subscription),
	}
}

// Schema returns the schema the document validates against.
func (d *Document) Schema() *Schema { return d.schema }

// Revision returns the current revision counter. Every committed mutation
// increments it.
func (d *Document) Revision() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rev
}

// Len returns the number of block nodes.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Node returns a copy of the node with the given ID. Copies keep callers from
// mutating model state behind the document's back.
func (d *Document) Node(id string) (Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.byID[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return copyNode(n), nil
}

// Nodes returns copies of all nodes in document order.
func (d *Document) Nodes() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Node, len(d.nodes))
	for i, n := range d.nodes {
		out[i] = copyNode(n)
	}
	return out
}

// InsertNode validates attrs against the schema (applying defaults, dropping
// undeclared attributes) and appends the node. Index -1 appends; otherwise
// the node is inserted at the given position.
func (d *Document) InsertNode(index int, n Node) (Node, error) {
	if n.ID == "" {
		return Node{}, NewValidationError(n.Type, "node ID is required")
	}
	if strings.ContainsFunc(n.ID, unicode.IsSpace) {
		return Node{}, NewValidationError(n.Type, fmt.Sprintf("node ID %q must not contain whitespace", n.ID))
	}
	attrs, err := d.schema.NodeAttrs(n.Type, n.Attrs)
	if err != nil {
		return Node{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[n.ID]; ok {
		return Node{}, NewValidationError(n.Type, fmt.Sprintf("node %q already exists", n.ID))
	}
	stored := &Node{ID: n.ID, Type: n.Type, Attrs: attrs, Text: n.Text}
	if index < 0 || index >= len(d.nodes) {
		d.nodes = append(d.nodes, stored)
	} else {
		d.nodes = append(d.nodes[:index], append([]*Node{stored}, d.nodes[index:]...)...)
	}
	d.byID[n.ID] = stored
	rev := d.bump()
	d.notify(Change{NodeID: n.ID, Kind: ChangeInsert, Revision: rev})
	return copyNode(stored), nil
}

// UpdateNodeAttrs merges the given attributes into the node, re-validating
// the result against the schema. Undeclared attributes are dropped.
func (d *Document) UpdateNodeAttrs(id string, attrs map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	merged := make(map[string]any, len(n.Attrs)+len(attrs))
	for k, v := range n.Attrs {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	conformed, err := d.schema.NodeAttrs(n.Type, merged)
	if err != nil {
		return err
	}
	n.Attrs = conformed
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: ChangeAttrs, Revision: rev})
	return nil
}

// SetText replaces the text content of a text block. Marks extending past the
// new length are clipped; empty ranges are dropped.
func (d *Document) SetText(id, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Text = text
	length := len([]rune(text))
	kept := n.Marks[:0]
	for _, mr := range n.Marks {
		if mr.From >= length {
			continue
		}
		if mr.To > length {
			mr.To = length
		}
		if mr.To > mr.From {
			kept = append(kept, mr)
		}
	}
	n.Marks = kept
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: ChangeText, Revision: rev})
	return nil
}

// ApplyMark places a mark over [from, to) of a text block. For exclusive mark
// types, any existing range of the same type overlapping the span is removed
// first: a text run carries at most one such mark.
func (d *Document) ApplyMark(id string, from, to int, m Mark) error {
	if from < 0 || to <= from {
		return NewValidationError(m.Type, fmt.Sprintf("invalid span [%d,%d)", from, to))
	}
	attrs, err := d.schema.MarkAttrs(m.Type, m.Attrs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if d.schema.MarkExclusive(m.Type) {
		kept := n.Marks[:0]
		for _, mr := range n.Marks {
			if mr.Mark.Type == m.Type && mr.From < to && from < mr.To {
				continue
			}
			kept = append(kept, mr)
		}
		n.Marks = kept
	}
	n.Marks = append(n.Marks, MarkRange{Mark: Mark{Type: m.Type, Attrs: attrs}, From: from, To: to})
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: ChangeMarks, Revision: rev})
	return nil
}

// UpdateMarkAttrs rewrites the attributes of every mark of the given type
// matching the predicate. The underlying text spans are untouched. Returns
// the number of marks updated.
func (d *Document) UpdateMarkAttrs(id, markType string, match func(attrs map[string]any) bool, attrs map[string]any) (int, error) {
	conformed, err := d.schema.MarkAttrs(markType, attrs)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	updated := 0
	for i := range n.Marks {
		if n.Marks[i].Mark.Type != markType {
			continue
		}
		if match != nil && !match(n.Marks[i].Mark.Attrs) {
			continue
		}
		n.Marks[i].Mark.Attrs = copyAttrs(conformed)
		updated++
	}
	if updated > 0 {
		rev := d.bump()
		d.notify(Change{NodeID: id, Kind: ChangeMarks, Revision: rev})
	}
	return updated, nil
}

// RemoveMark removes every mark of the given type overlapping [from, to).
func (d *Document) RemoveMark(id, markType string, from, to int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	kept := n.Marks[:0]
	for _, mr := range n.Marks {
		if mr.Mark.Type == markType && mr.From < to && from < mr.To {
			continue
		}
		kept = append(kept, mr)
	}
	n.Marks = kept
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: ChangeMarks, Revision: rev})
	return nil
}

// mutateNode runs fn against the live node under the document lock and, when
// fn succeeds, commits a change of the given kind. Extensions in this package
// use it for transitions that must read and write atomically.
func (d *Document) mutateNode(id string, kind ChangeKind, fn func(n *Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err := fn(n); err != nil {
		return err
	}
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: kind, Revision: rev})
	return nil
}

// RemoveNode deletes a node from the document.
func (d *Document) RemoveNode(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for i, n := range d.nodes {
		if n.ID == id {
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			break
		}
	}
	delete(d.byID, id)
	rev := d.bump()
	d.notify(Change{NodeID: id, Kind: ChangeRemove, Revision: rev})
	return nil
}

// Subscribe registers a listener for changes to one node. The returned cancel
// function unsubscribes; pending notifications are dropped, never blocked on.
func (d *Document) Subscribe(nodeID string) (<-chan Change, func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	ch := make(chan Change, 16)
	d.subscribers[nodeID] = append(d.subscribers[nodeID], ch)
	id := d.nextSub
	d.nextSub++
	d.subIndex[id] = subscription{nodeID: nodeID, ch: ch}
	cancel := func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		sub, ok := d.subIndex[id]
		if !ok {
			return
		}
		delete(d.subIndex, id)
		listeners := d.subscribers[sub.nodeID]
		for i, c := range listeners {
			if c == sub.ch {
				d.subscribers[sub.nodeID] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// bump increments the revision counter. Callers hold d.mu.
func (d *Document) bump() int64 {
	d.rev++
	return d.rev
}

// notify fans a change out to the node's listeners. Slow listeners miss
// changes rather than stalling the model.
func (d *Document) notify(c Change) {
	d.subMu.Lock()
	listeners := append([]chan Change(nil), d.subscribers[c.NodeID]...)
	d.subMu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- c:
		default:
		}
	}
}

func copyNode(n *Node) Node {
	out := Node{ID: n.ID, Type: n.Type, Text: n.Text, Attrs: copyAttrs(n.Attrs)}
	if len(n.Marks) > 0 {
		out.Marks = make([]MarkRange, len(n.Marks))
		for i, mr := range n.Marks {
			out.Marks[i] = MarkRange{
				Mark: Mark{Type: mr.Mark.Type, Attrs: copyAttrs(mr.Mark.Attrs)},
				From: mr.From,
				To:   mr.To,
			}
		}
	}
	return out
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
