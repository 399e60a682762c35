package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/markdave123-py/doqmate/internal/api"
	"github.com/markdave123-py/doqmate/internal/api/handlers"
	"github.com/markdave123-py/doqmate/internal/logger"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(addr string, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.Or(log),
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HTTPServer builds the server for the app's documents and queries.
func (a *App) HTTPServer() *Server {
	rc := api.RouterConfig{ImageURLPrefix: a.Config.ImageURLPrefix}
	if a.Config.ImageStore != "s3" {
		rc.ImageDir = a.Config.PDFImageDir
	}
	router := api.NewRouter(rc,
		handlers.NewDocumentHandler(a.Documents, a.log),
		handlers.NewQueryHandler(a.Queries, a.log),
		a.log,
	)
	return NewServer(":"+a.Config.Port, router, a.log)
}
