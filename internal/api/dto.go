package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/steward/internal/models"
)

// ChatRequest is the request body for POST /chat/message.
type ChatRequest struct {
	Messages []models.Message `json:"messages" validate:"required"`
	Stream   bool             `json:"stream"`
}

// Validate checks that the conversation is non-empty and every message is well formed.
func (r ChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Messages, validation.Required),
	)
}

// ChatResponse is returned for non-streamed replies.
type ChatResponse struct {
	Response string `json:"response" example:"Hello!" validate:"required"`
}

// ChatHealthResponse reports the model backend status.
type ChatHealthResponse struct {
	Status string `json:"status" example:"healthy" validate:"required"`
	Model  string `json:"model" example:"qwen2.5-coder:7b" validate:"required"`
}

// FileListResponse wraps vault listings.
type FileListResponse struct {
	Files []models.VaultFile `json:"files" validate:"required"`
	Count int                `json:"count" example:"42" validate:"required"`
}

// RecentResponse wraps recently modified files.
type RecentResponse struct {
	Files []models.RecentFile `json:"files" validate:"required"`
	Count int                 `json:"count" example:"10" validate:"required"`
}

// FileContentResponse is a single vault file.
type FileContentResponse struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello" validate:"required"`
}

// SearchResponse wraps search hits.
type SearchResponse struct {
	Results []models.SearchHit `json:"results" validate:"required"`
	Count   int                `json:"count" example:"2" validate:"required"`
}

// HealthResponse is the aggregate service status.
type HealthResponse struct {
	Status string `json:"status" example:"healthy" validate:"required"`
	LLM    string `json:"llm" example:"connected" validate:"required"`
	Vault  string `json:"vault" example:"available" validate:"required"`
}
