package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpad/inkpad"
)

func newBlockDoc(t *testing.T) (*inkpad.Document, *inkpad.CodeBlock) {
	t.Helper()
	doc := inkpad.NewDocument(inkpad.DefaultSchema())
	_, err := doc.InsertNode(-1, inkpad.NewCodeBlockNode("block-1", "python", "print(1)"))
	require.NoError(t, err)
	block, err := inkpad.AsCodeBlock(doc, "block-1")
	require.NoError(t, err)
	return doc, block
}

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func TestDispatchAppliesSuccess(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))
	d.Register("python", &fakeRunner{result: inkpad.RunResult{Status: inkpad.RunSuccess, Output: "1\n"}})

	runID, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	assert.Equal(t, "R1", runID)

	d.Wait()

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Succeeded, snap.State)
	require.NotNil(t, snap.Output)
	assert.Equal(t, "1\n", *snap.Output)
	assert.Nil(t, snap.Error)
}

func TestDispatchAppliesCodeFailure(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))
	d.Register("python", &fakeRunner{result: inkpad.RunResult{Status: inkpad.RunError, Message: "TypeError"}})

	_, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	d.Wait()

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Failed, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "TypeError", *snap.Error)
	assert.Nil(t, snap.Output)
}

func TestDispatchTransportFailure(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))
	d.Register("python", &fakeRunner{failUntil: 100, failWith: errors.New("connection refused")})

	_, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	d.Wait()

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Failed, snap.State)
	require.NotNil(t, snap.Error)
}

func TestDispatchTimeout(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil,
		WithIDGenerator(seqIDs("R")),
		WithTimeout(50*time.Millisecond))
	d.Register("python", RunnerFunc("slow", func(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
		<-ctx.Done()
		return inkpad.RunResult{}, ctx.Err()
	}))

	_, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	d.Wait()

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Failed, snap.State)
	require.NotNil(t, snap.Error)
}

func TestDispatchRejectsWhileRunning(t *testing.T) {
	doc, _ := newBlockDoc(t)
	release := make(chan struct{})
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))
	d.Register("python", RunnerFunc("blocking", func(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
		<-release
		return inkpad.RunResult{RunID: req.RunID, Status: inkpad.RunSuccess, Output: "done"}, nil
	}))

	first, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), doc, "block-1")
	assert.ErrorIs(t, err, inkpad.ErrRunInFlight)

	close(release)
	d.Wait()

	block, err := inkpad.AsCodeBlock(doc, "block-1")
	require.NoError(t, err)
	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, snap.LastRunID, "the original run still completes")
	assert.Equal(t, inkpad.Succeeded, snap.State)
}

func TestDispatchNoRunnerLeavesBlockIdle(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))

	_, err := d.Dispatch(context.Background(), doc, "block-1")
	require.Error(t, err)

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Idle, snap.State)
	assert.Empty(t, snap.LastRunID)
}

func TestDispatchFallsBackToDefaultRunner(t *testing.T) {
	doc, block := newBlockDoc(t)
	d := NewDispatcher(nil, WithIDGenerator(seqIDs("R")))
	d.Register(DefaultLanguage, &fakeRunner{result: inkpad.RunResult{Status: inkpad.RunSuccess, Output: "ok"}})

	_, err := d.Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	d.Wait()

	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Succeeded, snap.State)
}

func TestDispatchRejectsNonBlockNodes(t *testing.T) {
	doc := inkpad.NewDocument(inkpad.DefaultSchema())
	_, err := doc.InsertNode(-1, inkpad.Node{ID: "para-1", Type: inkpad.ParagraphType, Text: "hi"})
	require.NoError(t, err)

	d := NewDispatcher(nil)
	_, err = d.Dispatch(context.Background(), doc, "para-1")
	assert.ErrorIs(t, err, inkpad.ErrNotRecognized)
}
