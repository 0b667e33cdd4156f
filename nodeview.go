package inkpad

import (
	"fmt"
	"sync"
)

// ViewEvent is an interaction forwarded from a mounted view back to the
// model: pressing run, editing source inline, picking a link target. Views
// never mutate attributes directly; they dispatch events and the registered
// handler performs model operations.
type ViewEvent struct {
	NodeID string
	Action string
	Data   map[string]any
}

// EventHandler applies a view event to the model.
type EventHandler func(ev ViewEvent) error

// Renderable produces the on-screen representation of one element type. The
// model stores only the type tag and attributes; the rendering strategy is
// looked up by tag, so the model never depends on rendering code.
type Renderable interface {
	// Mount is called with a copy of the node being displayed and a
	// dispatch function for write-backs. It returns any renderer-specific
	// handle state, opaque to the bridge.
	Mount(n Node, dispatch func(ViewEvent) error) (any, error)
}

// RenderableFunc adapts a function to the Renderable interface.
type RenderableFunc func(n Node, dispatch func(ViewEvent) error) (any, error)

func (f RenderableFunc) Mount(n Node, dispatch func(ViewEvent) error) (any, error) {
	return f(n, dispatch)
}

// ViewHandle is the live binding between a mounted view and its node. It
// exposes a read channel of model changes and a write-back dispatch. The
// handle owns nothing: destroying or remounting it never alters document
// content or execution state.
type ViewHandle struct {
	nodeID  string
	doc     *Document
	state   any
	updates <-chan Change
	cancel  func()
	handler EventHandler

	once sync.Once
}

// NodeID returns the ID of the node this handle displays.
func (h *ViewHandle) NodeID() string { return h.nodeID }

// State returns the renderer-specific state produced by Mount.
func (h *ViewHandle) State() any { return h.state }

// Updates delivers a Change whenever the node's model attributes change
// externally, e.g. when a collaborator's run result arrives.
func (h *ViewHandle) Updates() <-chan Change { return h.updates }

// Node re-reads the current model state of the displayed node, for use when
// handling an update notification.
func (h *ViewHandle) Node() (Node, error) { return h.doc.Node(h.nodeID) }

// Dispatch forwards an interaction event to the registered handler. The
// node ID is stamped by the handle so a view cannot address another node.
func (h *ViewHandle) Dispatch(action string, data map[string]any) error {
	if h.handler == nil {
		return fmt.Errorf("no event handler registered for node %s", h.nodeID)
	}
	return h.handler(ViewEvent{NodeID: h.nodeID, Action: action, Data: data})
}

// Unmount detaches the handle from the model. Safe to call more than once.
func (h *ViewHandle) Unmount() {
	h.once.Do(h.cancel)
}

// ViewRegistry maps element type tags to their rendering strategies.
type ViewRegistry struct {
	mu      sync.RWMutex
	views   map[string]Renderable
	handler EventHandler
}

// NewViewRegistry creates an empty registry. The handler receives write-back
// events from every handle mounted through this registry.
func NewViewRegistry(handler EventHandler) *ViewRegistry {
	return &ViewRegistry{
		views:   make(map[string]Renderable),
		handler: handler,
	}
}

// Register binds a rendering strategy to an element type tag. Registering
// the same tag twice is rejected.
func (r *ViewRegistry) Register(typeTag string, view Renderable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[typeTag]; ok {
		return fmt.Errorf("view for %q already registered", typeTag)
	}
	r.views[typeTag] = view
	return nil
}

// Mount creates a view handle for a node: it looks up the strategy by the
// node's type tag, subscribes the handle to model changes, and calls the
// strategy's Mount with a write-back dispatch.
func (r *ViewRegistry) Mount(doc *Document, nodeID string) (*ViewHandle, error) {
	n, err := doc.Node(nodeID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	view, ok := r.views[n.Type]
	handler := r.handler
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no view for type %q", ErrNotRecognized, n.Type)
	}

	updates, cancel := doc.Subscribe(nodeID)
	h := &ViewHandle{
		nodeID:  nodeID,
		doc:     doc,
		updates: updates,
		cancel:  cancel,
		handler: handler,
	}
	state, err := view.Mount(n, func(ev ViewEvent) error {
		ev.NodeID = nodeID
		if handler == nil {
			return fmt.Errorf("no event handler registered for node %s", nodeID)
		}
		return handler(ev)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	h.state = state
	return h, nil
}
