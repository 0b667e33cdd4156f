package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
	"github.com/inkpad/inkpad/internal/config"
	"github.com/inkpad/inkpad/internal/lookup"
	"github.com/inkpad/inkpad/runner"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "index.db")
	cfg.Docs.Dir = ""
	cfg.Exec.Retry = config.RetryConfig{MaxRetries: 1, BaseDelay: "1ms", MaxDelay: "2ms"}
	if backendURL != "" {
		cfg.Backend.APIURL = backendURL
		cfg.Backend.AgentURL = "ws" + strings.TrimPrefix(backendURL, "http")
	}
	return cfg
}

func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()
	srv, err := New(testConfig(t, backendURL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.store.Close() })
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDocumentIndexAndSearch(t *testing.T) {
	srv := newTestServer(t, "")

	rec := postJSON(t, srv.Handler(), "/api/documents", lookup.Record{DocID: "doc-1", Title: "Roadmap"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents?q=road", nil)
	res := httptest.NewRecorder()
	srv.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var records []lookup.Record
	require.NoError(t, json.NewDecoder(res.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "doc-1", records[0].DocID)
}

func TestSearchRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/documents?q=x&limit=zero", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutRejectsIncompleteRecord(t *testing.T) {
	srv := newTestServer(t, "")
	rec := postJSON(t, srv.Handler(), "/api/documents", lookup.Record{DocID: "doc-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexWithNewTitlePropagatesRename(t *testing.T) {
	srv := newTestServer(t, "")

	rec := postJSON(t, srv.Handler(), "/api/documents", lookup.Record{DocID: "doc-1", Title: "Roadmap"})
	require.Equal(t, http.StatusOK, rec.Code)

	// An open document holds a resolved link to doc-1.
	doc := inkpad.NewDocument(inkpad.DefaultSchema())
	_, err := doc.InsertNode(-1, inkpad.Node{ID: "para-1", Type: inkpad.ParagraphType, Text: "See Roadmap here"})
	require.NoError(t, err)
	ref := inkpad.DocumentReference{DocID: "doc-1", DocTitle: "Roadmap"}
	require.NoError(t, inkpad.ApplyWikiLink(doc, "para-1", 4, 11, ref))
	cancel := srv.Resolver().Track(doc)
	defer cancel()

	rec = postJSON(t, srv.Handler(), "/api/documents", lookup.Record{DocID: "doc-1", Title: "Roadmap 2026"})
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := doc.Node("para-1")
	require.NoError(t, err)
	require.Len(t, n.Marks, 1)
	got, err := inkpad.WikiLinkRef(n.Marks[0].Mark)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap 2026", got.DocTitle)
}

func TestAPIProxyPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
	}))
	defer backend.Close()

	srv := newTestServer(t, backend.URL)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "/api/health", body["path"], "proxied paths are not rewritten")
}

func TestRunExecutesThroughBackendRunner(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req runner.RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(map[string]string{
			"correlationId": req.RunID, "status": "success", "output": "ok",
		})
	}))
	defer backend.Close()

	srv := newTestServer(t, backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/run", map[string]string{
		"blockId": "block-1", "correlationId": "R1", "language": "python", "source": "print(1)",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/run", gotPath)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "R1", body["correlationId"])
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "ok", body["output"])
}

func TestRunRequiresCorrelationID(t *testing.T) {
	srv := newTestServer(t, "")
	rec := postJSON(t, srv.Handler(), "/api/run", map[string]string{
		"blockId": "block-1", "language": "python", "source": "print(1)",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunBackendDownFailsFast(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:1")

	body := map[string]string{
		"blockId": "block-1", "correlationId": "R1", "language": "python", "source": "print(1)",
	}
	rec := postJSON(t, srv.Handler(), "/api/run", body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// Repeated transport failures open the breaker; the backend stops being
	// dialed at all.
	for i := 0; i < 5; i++ {
		postJSON(t, srv.Handler(), "/api/run", body)
	}
	rec = postJSON(t, srv.Handler(), "/api/run", body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDispatcherRunsBlocksOverAgentChannel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var env runner.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		result, _ := json.Marshal(map[string]string{"status": "success", "output": "7"})
		conn.WriteJSON(runner.Envelope{
			BlockID: env.BlockID, RunID: env.RunID, Event: runner.EventResult, Data: result,
		})
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	srv := newTestServer(t, backend.URL)

	doc := inkpad.NewDocument(inkpad.DefaultSchema())
	_, err := doc.InsertNode(-1, inkpad.NewCodeBlockNode("block-1", "python", "print(7)"))
	require.NoError(t, err)

	_, err = srv.Dispatcher().Dispatch(context.Background(), doc, "block-1")
	require.NoError(t, err)
	srv.Dispatcher().Wait()

	block, err := inkpad.AsCodeBlock(doc, "block-1")
	require.NoError(t, err)
	snap, err := block.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, inkpad.Succeeded, snap.State)
	require.NotNil(t, snap.Output)
	assert.Equal(t, "7", *snap.Output)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Server.RateLimit = 1
	cfg.Server.Burst = 1
	srv, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer srv.store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/documents?q=x", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAgentTunnelRewritesPath(t *testing.T) {
	// Fake backend serving an echo agent at /ws.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	srv := newTestServer(t, backend.URL)
	front := httptest.NewServer(srv.Handler())
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/agent-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := `{"blockID":"block-1","correlationId":"R1","event":"run"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestAgentTargetRewrite(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ws://localhost:8080", "ws://localhost:8080/ws"},
		{"ws://localhost:8080/agent-ws", "ws://localhost:8080/ws"},
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://backend.example", "wss://backend.example/ws"},
		{"ws://localhost:8080/custom", "ws://localhost:8080/custom"},
	}
	for _, tc := range cases {
		got, err := agentTarget(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
