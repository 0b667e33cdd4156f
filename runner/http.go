package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkpad/inkpad"
)

// HTTPRunner executes blocks through the backend's non-streaming run
// endpoint.
type HTTPRunner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRunner creates a runner against the backend API base URL.
func NewHTTPRunner(baseURL string) *HTTPRunner {
	return &HTTPRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the runner identifier.
func (r *HTTPRunner) Name() string { return "http" }

type runResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"` // "success" or "error"
	Output        string `json:"output"`
	Error         string `json:"error"`
}

// Run POSTs {language, source} and decodes the terminal response.
func (r *HTTPRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return inkpad.RunResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/run", bytes.NewReader(body))
	if err != nil {
		return inkpad.RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return inkpad.RunResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return inkpad.RunResult{}, fmt.Errorf("run endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rr runResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return inkpad.RunResult{}, fmt.Errorf("failed to decode run response: %w", err)
	}

	out := inkpad.RunResult{RunID: rr.CorrelationID}
	if out.RunID == "" {
		// Backends that do not echo the id get the request's; the block
		// still validates freshness against its own current id.
		out.RunID = req.RunID
	}
	if rr.Status == "success" {
		out.Status = inkpad.RunSuccess
		out.Output = rr.Output
	} else {
		out.Status = inkpad.RunError
		out.Message = rr.Error
	}
	return out, nil
}
