package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/chat"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/vault"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// ChatService answers conversations.
type ChatService interface {
	Respond(ctx context.Context, msgs []models.Message, streaming bool) (*chat.Reply, error)
	Model() string
	Healthy(ctx context.Context) bool
	Commands() []command.Definition
}

// VaultService is the read-only vault plus an availability probe.
type VaultService interface {
	vault.Provider
	Available() error
}

// Handler holds API route handlers.
type Handler struct {
	chat        ChatService
	vault       VaultService
	recentLimit int
}

// NewHandler creates a new Handler. recentLimit is the default for /vault/recent.
func NewHandler(chat ChatService, v VaultService, recentLimit int) *Handler {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Handler{chat: chat, vault: v, recentLimit: recentLimit}
}

// ChatMessage handles POST /chat/message.
//
//	@Summary		Send a conversation and receive a reply
//	@Tags			chat
//	@Accept			json
//	@Produce		json,text/event-stream
//	@Param			body	body		ChatRequest	true	"Conversation"
//	@Success		200		{object}	ChatResponse
//	@Failure		422		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Router			/chat/message [post]
func (h *Handler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return
	}

	reply, err := h.chat.Respond(r.Context(), req.Messages, req.Stream)
	if err != nil {
		writeError(w, r, "chat", err)
		return
	}
	if reply.Stream == nil {
		writeJSON(w, http.StatusOK, ChatResponse{Response: reply.Text})
		return
	}
	writeStream(w, r, reply.Stream)
}

// ChatHealth handles GET /chat/health.
//
//	@Summary		Check the model backend
//	@Tags			chat
//	@Produce		json
//	@Success		200	{object}	ChatHealthResponse
//	@Failure		503	{object}	errResponse
//	@Router			/chat/health [get]
func (h *Handler) ChatHealth(w http.ResponseWriter, r *http.Request) {
	if !h.chat.Healthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("LLM service unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, ChatHealthResponse{Status: statusHealthy, Model: h.chat.Model()})
}

// ListFiles handles GET /vault/files.
//
//	@Summary		List all markdown files in the vault
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	FileListResponse
//	@Failure		500	{object}	errResponse
//	@Router			/vault/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.vault.List(r.Context())
	if err != nil {
		writeError(w, r, "list files", err)
		return
	}
	writeJSON(w, http.StatusOK, FileListResponse{Files: files, Count: len(files)})
}

// GetFile handles GET /vault/file?path=.
//
//	@Summary		Read one vault file
//	@Tags			vault
//	@Produce		json
//	@Param			path	query		string	true	"Path relative to the vault root"
//	@Success		200		{object}	FileContentResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Router			/vault/file [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if strings.TrimSpace(p) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("query parameter 'path' is required"))
		return
	}
	content, err := h.vault.Read(r.Context(), p)
	if err != nil {
		writeError(w, r, "read file", err)
		return
	}
	writeJSON(w, http.StatusOK, FileContentResponse{Path: p, Content: content})
}

// RecentFiles handles GET /vault/recent.
//
//	@Summary		List recently modified files
//	@Tags			vault
//	@Produce		json
//	@Param			limit	query		int	false	"Number of files"
//	@Success		200		{object}	RecentResponse
//	@Router			/vault/recent [get]
func (h *Handler) RecentFiles(w http.ResponseWriter, r *http.Request) {
	limit := h.recentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("query parameter 'limit' must be an integer"))
			return
		}
		limit = n
	}
	files, err := h.vault.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, "recent files", err)
		return
	}
	writeJSON(w, http.StatusOK, RecentResponse{Files: files, Count: len(files)})
}

// Search handles GET /vault/search?q=.
//
//	@Summary		Case-insensitive line search across the vault
//	@Tags			vault
//	@Produce		json
//	@Param			q	query		string	true	"Search query"
//	@Success		200	{object}	SearchResponse
//	@Failure		422	{object}	errResponse
//	@Router			/vault/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("query parameter 'q' is required"))
		return
	}
	hits, err := h.vault.Search(r.Context(), q)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits, Count: len(hits)})
}

// Commands handles GET /commands.
func (h *Handler) Commands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": h.chat.Commands()})
}

// Health handles GET /health. It always answers 200 and reports each dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: statusHealthy, LLM: "connected", Vault: "available"}
	if !h.chat.Healthy(r.Context()) {
		resp.Status, resp.LLM = statusUnhealthy, "unavailable"
	}
	if err := h.vault.Available(); err != nil {
		resp.Status, resp.Vault = statusUnhealthy, "unavailable"
		if !errors.Is(err, apperr.ErrVaultUnavailable) {
			resp.Vault = "error"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Steward personal assistant API",
	})
}
