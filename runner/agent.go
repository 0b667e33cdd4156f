package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
)

// Envelope is the multiplexed message format of the agent channel. Every
// message carries the correlation id so freshness can be validated on
// arrival; the transport itself is treated as unordered.
type Envelope struct {
	BlockID string          `json:"blockID"`
	RunID   string          `json:"correlationId"`
	Event   string          `json:"event"` // "run", "output", "result"
	Data    json.RawMessage `json:"data,omitempty"`
}

// Agent channel events.
const (
	EventRun    = "run"
	EventOutput = "output"
	EventResult = "result"
)

type resultPayload struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// AgentRunner executes blocks over the streaming agent websocket. Partial
// output events are accumulated until the terminal result event arrives.
type AgentRunner struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewAgentRunner creates a runner dialing the given websocket URL (the /ws
// endpoint on the backend).
func NewAgentRunner(url string, logger *zap.Logger) *AgentRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentRunner{
		url:    strings.TrimRight(url, "/") + "/ws",
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Name returns the runner identifier.
func (r *AgentRunner) Name() string { return "agent" }

// Run opens a connection per run: it sends the run envelope and reads until
// the result event for the request's correlation id arrives. Envelopes with
// any other correlation id are dropped, not errors; stale traffic from
// superseded runs is expected on this channel.
func (r *AgentRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return inkpad.RunResult{}, fmt.Errorf("agent dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	data, err := json.Marshal(map[string]string{"language": req.Language, "source": req.Source})
	if err != nil {
		return inkpad.RunResult{}, err
	}
	run := Envelope{BlockID: req.BlockID, RunID: req.RunID, Event: EventRun, Data: data}
	if err := conn.WriteJSON(run); err != nil {
		return inkpad.RunResult{}, fmt.Errorf("agent send failed: %w", err)
	}

	var output strings.Builder
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return inkpad.RunResult{}, ctx.Err()
			}
			return inkpad.RunResult{}, fmt.Errorf("agent read failed: %w", err)
		}
		if env.RunID != req.RunID {
			r.logger.Debug("dropping envelope with stale correlation id",
				zap.String("got", env.RunID), zap.String("want", req.RunID))
			continue
		}
		switch env.Event {
		case EventOutput:
			var chunk string
			if err := json.Unmarshal(env.Data, &chunk); err == nil {
				output.WriteString(chunk)
			}
		case EventResult:
			var payload resultPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return inkpad.RunResult{}, fmt.Errorf("malformed result payload: %w", err)
			}
			res := inkpad.RunResult{RunID: env.RunID}
			if payload.Status == "success" {
				res.Status = inkpad.RunSuccess
				res.Output = output.String() + payload.Output
			} else {
				res.Status = inkpad.RunError
				res.Message = payload.Error
			}
			return res, nil
		}
	}
}
