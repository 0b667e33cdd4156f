package inkpad

import (
	"fmt"
	"strings"
)

// CodeBlockType is the node type tag for inline executable code blocks.
const CodeBlockType = "exec-block"

// ExecState is the per-block execution lifecycle, tracked independently of
// the surrounding document's edit history.
type ExecState int

const (
	Idle ExecState = iota
	Running
	Succeeded
	Failed
)

func (s ExecState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind distinguishes the two user-visible failure modes of a block.
const (
	errKindExecution = "execution"
	errKindTransport = "transport"
	errKindTimeout   = "timeout"
)

func execBlockSpec() NodeSpec {
	return NodeSpec{
		Type: CodeBlockType,
		Attrs: []Attribute{
			{Name: "language", Spec: AttributeSpec{Default: "", Required: true}},
			{Name: "source", Spec: AttributeSpec{Default: ""}},
			// Execution state is runtime-only: it is declared so model
			// operations can carry it, but it is never persisted and
			// resets to Idle on parse.
			{Name: "state", Spec: AttributeSpec{Default: Idle}},
			{Name: "output", Spec: AttributeSpec{Default: nil}},
			{Name: "error", Spec: AttributeSpec{Default: nil}},
			{Name: "errorKind", Spec: AttributeSpec{Default: nil}},
			{Name: "lastRunId", Spec: AttributeSpec{Default: nil}},
			{Name: "stale", Spec: AttributeSpec{Default: false}},
		},
	}
}

// NewCodeBlockNode creates an executable code block node in the Idle state.
func NewCodeBlockNode(id, language, source string) Node {
	return Node{
		ID:   id,
		Type: CodeBlockType,
		Attrs: map[string]any{
			"language": language,
			"source":   source,
		},
	}
}

// CodeBlock is a typed view over an executable code block node. It is not the
// source of truth: every transition goes through model operations on the
// owning document, so undo, serialization, and collaborative merge keep
// working on the model alone.
type CodeBlock struct {
	doc *Document
	id  string
}

// BlockSnapshot is a point-in-time copy of a block's execution attributes.
type BlockSnapshot struct {
	Language  string
	Source    string
	State     ExecState
	Output    *string
	Error     *string
	ErrorKind string
	LastRunID string
	// Stale flags a retained previous result while a newer run is pending
	// or after the source was edited.
	Stale bool
}

// AsCodeBlock binds a CodeBlock view to an exec-block node in the document.
func AsCodeBlock(doc *Document, nodeID string) (*CodeBlock, error) {
	n, err := doc.Node(nodeID)
	if err != nil {
		return nil, err
	}
	if n.Type != CodeBlockType {
		return nil, fmt.Errorf("%w: node %s has type %q", ErrNotRecognized, nodeID, n.Type)
	}
	return &CodeBlock{doc: doc, id: nodeID}, nil
}

// ID returns the node ID of the block.
func (b *CodeBlock) ID() string { return b.id }

// Snapshot returns the block's current execution attributes.
func (b *CodeBlock) Snapshot() (BlockSnapshot, error) {
	n, err := b.doc.Node(b.id)
	if err != nil {
		return BlockSnapshot{}, err
	}
	return snapshotAttrs(n.Attrs), nil
}

func snapshotAttrs(attrs map[string]any) BlockSnapshot {
	s := BlockSnapshot{}
	s.Language, _ = attrs["language"].(string)
	s.Source, _ = attrs["source"].(string)
	if st, ok := attrs["state"].(ExecState); ok {
		s.State = st
	}
	if v, ok := attrs["output"].(string); ok {
		s.Output = &v
	}
	if v, ok := attrs["error"].(string); ok {
		s.Error = &v
	}
	s.ErrorKind, _ = attrs["errorKind"].(string)
	s.LastRunID, _ = attrs["lastRunId"].(string)
	s.Stale, _ = attrs["stale"].(bool)
	return s
}

// SetSource edits the block's source text. Editing is legal in any state; a
// retained result from an earlier run is flagged stale so it is never shown
// as current.
func (b *CodeBlock) SetSource(source string) error {
	return b.doc.mutateNode(b.id, ChangeAttrs, func(n *Node) error {
		n.Attrs["source"] = source
		if n.Attrs["output"] != nil || n.Attrs["error"] != nil {
			n.Attrs["stale"] = true
		}
		return nil
	})
}

// SetLanguage edits the block's language tag, legal in any state.
func (b *CodeBlock) SetLanguage(language string) error {
	return b.doc.mutateNode(b.id, ChangeAttrs, func(n *Node) error {
		n.Attrs["language"] = language
		return nil
	})
}

// RequestRun transitions Idle/Succeeded/Failed -> Running with a fresh
// correlation id from newID. An empty source is rejected with a
// ValidationError and no state change; a run requested while already Running
// is rejected with ErrRunInFlight (duplicate concurrent runs of one block are
// not meaningful). The previous result is retained but flagged stale until
// the new result arrives.
func (b *CodeBlock) RequestRun(newID func() string) (string, error) {
	var runID string
	err := b.doc.mutateNode(b.id, ChangeAttrs, func(n *Node) error {
		src, _ := n.Attrs["source"].(string)
		if strings.TrimSpace(src) == "" {
			return NewValidationError(CodeBlockType, "run requested with empty source").WithField("source")
		}
		if st, _ := n.Attrs["state"].(ExecState); st == Running {
			return ErrRunInFlight
		}
		runID = newID()
		n.Attrs["state"] = Running
		n.Attrs["lastRunId"] = runID
		if n.Attrs["output"] != nil || n.Attrs["error"] != nil {
			n.Attrs["stale"] = true
		}
		checkExecInvariants(n.Attrs)
		return nil
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// RunStatus is the terminal status reported by an execution backend.
type RunStatus int

const (
	RunSuccess RunStatus = iota
	RunError
)

// RunResult is a terminal response from an execution backend, matched to its
// request solely by correlation id.
type RunResult struct {
	RunID   string
	Status  RunStatus
	Output  string
	Message string // backend-supplied failure message when Status is RunError
}

// CompleteRun applies a terminal response. A response whose correlation id
// does not match the block's current run, or that arrives when no run is
// pending, is discarded with a StaleResponseError: the transport is treated
// as unordered and at-least-once.
func (b *CodeBlock) CompleteRun(res RunResult) error {
	return b.doc.mutateNode(b.id, ChangeAttrs, func(n *Node) error {
		if err := freshnessGuard(b.id, n.Attrs, res.RunID); err != nil {
			return err
		}
		if res.Status == RunSuccess {
			n.Attrs["state"] = Succeeded
			n.Attrs["output"] = res.Output
			n.Attrs["error"] = nil
			n.Attrs["errorKind"] = nil
		} else {
			n.Attrs["state"] = Failed
			n.Attrs["error"] = res.Message
			n.Attrs["errorKind"] = errKindExecution
			n.Attrs["output"] = nil
		}
		n.Attrs["stale"] = false
		checkExecInvariants(n.Attrs)
		return nil
	})
}

// FailTransport records that the run request itself failed: dispatch error or
// local timeout. The same freshness guard applies, so a transport failure
// from a superseded run cannot clobber a newer one.
func (b *CodeBlock) FailTransport(runID string, kind TransportKind, cause error) error {
	return b.doc.mutateNode(b.id, ChangeAttrs, func(n *Node) error {
		if err := freshnessGuard(b.id, n.Attrs, runID); err != nil {
			return err
		}
		n.Attrs["state"] = Failed
		msg := (&TransportError{Kind: kind, RunID: runID, Cause: cause}).Error()
		n.Attrs["error"] = msg
		if kind == TransportTimeout {
			n.Attrs["errorKind"] = errKindTimeout
		} else {
			n.Attrs["errorKind"] = errKindTransport
		}
		n.Attrs["output"] = nil
		n.Attrs["stale"] = false
		checkExecInvariants(n.Attrs)
		return nil
	})
}

// ExpireRun forces a Running block to Failed with a timeout-kind error and
// invalidates the correlation id; a terminal response arriving later is
// dropped by the usual stale-response path.
func (b *CodeBlock) ExpireRun(runID string) error {
	return b.FailTransport(runID, TransportTimeout, fmt.Errorf("no response before deadline"))
}

func freshnessGuard(blockID string, attrs map[string]any, runID string) error {
	st, _ := attrs["state"].(ExecState)
	cur, _ := attrs["lastRunId"].(string)
	if st != Running || runID == "" || runID != cur {
		return &StaleResponseError{BlockID: blockID, Got: runID, Want: cur}
	}
	return nil
}

// checkExecInvariants asserts the mutual-exclusion invariant after every
// transition: Succeeded implies output set and error clear, Failed implies
// the reverse, Running implies a pending correlation id. A violation is a bug
// in a transition, never an input error; it panics rather than returning an
// error, because by the time it is detected the live attrs are already
// written and an error return would abort the commit and leave the node
// half-mutated.
func checkExecInvariants(attrs map[string]any) {
	st, _ := attrs["state"].(ExecState)
	_, hasOut := attrs["output"].(string)
	_, hasErr := attrs["error"].(string)
	runID, _ := attrs["lastRunId"].(string)
	switch st {
	case Succeeded:
		if !hasOut || hasErr {
			panic(fmt.Sprintf("exec-block invariant violated: succeeded with output=%v error=%v", hasOut, hasErr))
		}
	case Failed:
		if hasOut || !hasErr {
			panic(fmt.Sprintf("exec-block invariant violated: failed with output=%v error=%v", hasOut, hasErr))
		}
	case Running:
		if runID == "" {
			panic("exec-block invariant violated: running without correlation id")
		}
	}
}
