// Package api implements the steward REST API using chi.
package api

import (
	"net/http"

	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local dev servers of the web client.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:5174",
}

// CORSMiddleware lets the browser client call the API from origins.
// An empty list falls back to DefaultAllowedOrigins.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
