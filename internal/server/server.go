// Package server assembles the HTTP surface of the proctoring platform:
// the REST API, health endpoints, and the optional MCP mount.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proctorwatch/proctor-platform/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// Server wraps an http.Server configured from the platform.
type Server struct {
	httpServer *http.Server
	platform   *platform.Platform
	log        *slog.Logger
}

// New builds the root mux for the platform and wraps it in an http.Server
// using the timeouts and address from the platform configuration.
func New(p *platform.Platform, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cfg := p.Config()

	mux := http.NewServeMux()
	mux.Handle("/api/", p.Handler())
	mux.HandleFunc("GET /healthz", p.Health().LivenessHandler())
	mux.HandleFunc("GET /readyz", p.Health().ReadinessHandler())

	if mcpServer := p.MCPServer(); mcpServer != nil {
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpServer }, nil)
		mux.Handle(cfg.MCP.Path, handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		platform: p,
		log:      log,
	}
}

// Handler returns the root handler. Useful for tests that serve the full
// surface through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until Shutdown is called or the listener fails.
// It returns nil when the server was shut down cleanly.
func (s *Server) ListenAndServe() error {
	cfg := s.platform.Config()
	s.log.Info("http server listening",
		"address", cfg.Server.Address,
		"tls", cfg.Server.TLS.Enabled,
	)

	var err error
	if cfg.Server.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
