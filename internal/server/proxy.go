package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// newAPIProxy builds the passthrough reverse proxy for backend API routes.
// Paths are forwarded unchanged; only the host is rewritten.
func newAPIProxy(backendURL string, logger *zap.Logger) http.Handler {
	target, err := url.Parse(backendURL)
	if err != nil {
		logger.Error("invalid backend URL, API proxying disabled",
			zap.String("url", backendURL), zap.Error(err))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusBadGateway, "backend not configured")
		})
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("backend proxy error",
				zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusBadGateway, "backend unavailable")
		},
	}
	return proxy
}
