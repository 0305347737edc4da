// Package llm adapts chat-completion backends (a local OpenAI-compatible
// daemon or the hosted Anthropic API) to the role/content message convention.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/steward/internal/models"
)

// DefaultSystemPrompt is prepended to every conversation.
const DefaultSystemPrompt = `You are Steward, a personal assistant with read access to the user's markdown notes vault.
Help the user think, plan, and stay aligned with their projects and goals.
Be concise and practical. When the user asks about their notes, suggest slash commands such as /search <query>, /recent or /today.`

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"

	defaultMaxTokens = 2048
	defaultTimeout   = 2 * time.Minute
)

// Client issues completion requests against a backend.
type Client interface {
	// Complete blocks until the full completion is available.
	Complete(ctx context.Context, msgs []models.Message) (string, error)
	// Stream returns a one-shot sequence of fragments. Connection failures are
	// reported here, before the first fragment is handed out.
	Stream(ctx context.Context, msgs []models.Message) (*Stream, error)
	// Health reports whether the backend answers a lightweight request.
	Health(ctx context.Context) bool
	// Model returns the configured model name.
	Model() string
}

// Config selects and tunes a backend.
type Config struct {
	Provider     string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxTokens    int
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}

// New builds the adapter named by cfg.Provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, ProviderOllama, "":
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
