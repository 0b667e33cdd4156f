package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dev server, same machine
	},
}

// handleAgentWS bridges the editor's /agent-ws connection to the backend's
// /ws endpoint. Frames pass through untouched in both directions; only the
// path is rewritten.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	backendURL, err := agentTarget(s.cfg.Backend.AgentURL)
	if err != nil {
		s.logger.Error("invalid agent backend URL",
			zap.String("url", s.cfg.Backend.AgentURL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "agent backend not configured")
		return
	}

	backend, resp, err := websocket.DefaultDialer.DialContext(r.Context(), backendURL, nil)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		s.logger.Warn("agent backend dial failed",
			zap.String("url", backendURL), zap.Error(err))
		writeError(w, status, "agent backend unavailable")
		return
	}
	defer backend.Close()

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer client.Close()

	s.logger.Debug("agent tunnel open", zap.String("backend", backendURL))

	var once sync.Once
	done := make(chan struct{})
	closeBoth := func() {
		once.Do(func() {
			close(done)
			client.Close()
			backend.Close()
		})
	}

	go pump(client, backend, closeBoth)
	go pump(backend, client, closeBoth)
	<-done

	s.logger.Debug("agent tunnel closed", zap.String("backend", backendURL))
}

// pump copies frames from src to dst until either side fails.
func pump(src, dst *websocket.Conn, closeBoth func()) {
	defer closeBoth()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// agentTarget rewrites the configured agent URL to the backend's /ws path.
func agentTarget(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" || strings.HasSuffix(u.Path, "/agent-ws") {
		u.Path = strings.TrimSuffix(u.Path, "/agent-ws")
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}
