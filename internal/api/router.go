package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/doqmate/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/doqmate/internal/api/middlewares"
)

// RouterConfig is what the router needs besides the handlers.
type RouterConfig struct {
	// ImageDir is served under ImageURLPrefix when non-empty.
	ImageDir       string
	ImageURLPrefix string
	AllowedOrigins []string
}

// NewRouter builds and wires all routes.
func NewRouter(rc RouterConfig, docs *handlers.DocumentHandler, queries *handlers.QueryHandler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	origins := rc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8888"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	if rc.ImageDir != "" {
		prefix := "/" + strings.Trim(rc.ImageURLPrefix, "/")
		fs := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(rc.ImageDir)))
		r.Get(prefix+"/*", fs.ServeHTTP)
	}

	r.Route("/api/chatbots/{chatbotID}", func(api chi.Router) {
		api.With(middleware.Timeout(2*time.Minute)).Post("/query", queries.Query)
		api.Post("/documents", docs.UploadDocument)
		api.Get("/documents/{documentID}", docs.GetDocument)
		api.Delete("/documents/{documentID}", docs.DeleteDocument)
	})
	return r
}
