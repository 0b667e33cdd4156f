package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpad/inkpad"
)

func TestHTTPRunnerSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/run", r.URL.Path)

		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "block-1", req.BlockID)
		assert.Equal(t, "python", req.Language)

		json.NewEncoder(w).Encode(map[string]string{
			"correlationId": req.RunID,
			"status":        "success",
			"output":        "42",
		})
	}))
	defer backend.Close()

	r := NewHTTPRunner(backend.URL)
	res, err := r.Run(context.Background(), RunRequest{
		BlockID: "block-1", RunID: "R1", Language: "python", Source: "print(42)",
	})
	require.NoError(t, err)
	assert.Equal(t, inkpad.RunResult{RunID: "R1", Status: inkpad.RunSuccess, Output: "42"}, res)
}

func TestHTTPRunnerCodeFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"correlationId": "R1",
			"status":        "error",
			"error":         "NameError: x is not defined",
		})
	}))
	defer backend.Close()

	r := NewHTTPRunner(backend.URL)
	res, err := r.Run(context.Background(), RunRequest{BlockID: "block-1", RunID: "R1", Language: "python", Source: "x"})
	require.NoError(t, err, "a code failure is a successful round trip")
	assert.Equal(t, inkpad.RunError, res.Status)
	assert.Equal(t, "NameError: x is not defined", res.Message)
}

func TestHTTPRunnerBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	r := NewHTTPRunner(backend.URL)
	_, err := r.Run(context.Background(), RunRequest{BlockID: "block-1", RunID: "R1", Language: "python", Source: "1"})
	assert.Error(t, err)
}

func TestHTTPRunnerUnreachable(t *testing.T) {
	r := NewHTTPRunner("http://127.0.0.1:1")
	_, err := r.Run(context.Background(), RunRequest{BlockID: "block-1", RunID: "R1", Language: "python", Source: "1"})
	assert.Error(t, err)
}

func TestHTTPRunnerFillsMissingCorrelationID(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "output": "ok"})
	}))
	defer backend.Close()

	r := NewHTTPRunner(backend.URL)
	res, err := r.Run(context.Background(), RunRequest{BlockID: "block-1", RunID: "R7", Language: "python", Source: "1"})
	require.NoError(t, err)
	assert.Equal(t, "R7", res.RunID, "the request id stands in when the backend does not echo one")
}
