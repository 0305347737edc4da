package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// events, if non-nil, is mounted at GET /vault/events.
func NewRouter(h *Handler, allowedOrigins []string, events http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(CORSMiddleware(allowedOrigins))

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", h.ChatMessage)
		r.Get("/health", h.ChatHealth)
	})

	r.Route("/vault", func(r chi.Router) {
		r.Get("/files", h.ListFiles)
		r.Get("/file", h.GetFile)
		r.Get("/recent", h.RecentFiles)
		r.Get("/search", h.Search)
		if events != nil {
			r.Get("/events", events.ServeHTTP)
		}
	})

	r.Get("/commands", h.Commands)

	return r
}
