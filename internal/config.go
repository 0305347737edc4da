package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/vault"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	LLM      LLMConfig         `yaml:"llm"`
	Telegram TelegramConfig    `yaml:"telegram"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Vault.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig describes the markdown vault.
type VaultConfig struct {
	Path             string   `yaml:"path"`
	ExcerptLength    int      `yaml:"excerpt_length"`
	RecentLimit      int      `yaml:"recent_limit"`
	DailyNotesFolder string   `yaml:"daily_notes_folder"`
	ProjectsFolder   string   `yaml:"projects_folder"`
	IgnoredDirs      []string `yaml:"ignored_dirs"`
	// Watch enables change notifications on /vault/events.
	Watch bool `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.ExcerptLength, validation.Min(0)),
		validation.Field(&c.RecentLimit, validation.Min(1)),
	)
}

// ReaderOptions converts the section into vault reader options.
func (c *VaultConfig) ReaderOptions(logger *slog.Logger) vault.Options {
	return vault.Options{
		ExcerptLength: c.ExcerptLength,
		IgnoredDirs:   c.IgnoredDirs,
		Logger:        logger,
	}
}

// LLMConfig selects a completion backend.
//
// Provider is one of:
//   - "openai" or "ollama": any OpenAI-compatible endpoint, a local daemon by default.
//   - "anthropic": the hosted Messages API; APIKey is required.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(llm.ProviderOpenAI, llm.ProviderOllama, llm.ProviderAnthropic)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.APIKey, validation.When(c.Provider == llm.ProviderAnthropic, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	)
}

// ClientConfig converts the section into an llm.Config.
func (c *LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:     c.Provider,
		BaseURL:      c.BaseURL,
		APIKey:       c.APIKey,
		Model:        c.Model,
		Timeout:      c.Timeout,
		MaxTokens:    c.MaxTokens,
		SystemPrompt: c.SystemPrompt,
	}
}

// TelegramConfig configures the chat bot and its reminders.
type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Token        string  `yaml:"token"`
	ChatID       int64   `yaml:"chat_id"`
	AllowedUsers []int64 `yaml:"allowed_users"`
	// RateLimit bounds messages per user.
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	MaxHistory int             `yaml:"max_history"`
	// LLM overrides the top-level llm section for the bot when Provider is set.
	LLM LLMConfig `yaml:"llm"`
	// LLMRequestsPerMinute is the bot's total model budget.
	LLMRequestsPerMinute int         `yaml:"llm_requests_per_minute"`
	Nudge                NudgeConfig `yaml:"nudge"`
}

// Validate validates the Telegram configuration. Nothing is checked while disabled.
func (c *TelegramConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.MaxHistory, validation.Min(2)),
		validation.Field(&c.LLMRequestsPerMinute, validation.Min(1)),
	); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if c.HasOwnLLM() {
		if err := c.LLM.Validate(); err != nil {
			return fmt.Errorf("llm: %w", err)
		}
	}
	if err := c.Nudge.Validate(); err != nil {
		return fmt.Errorf("nudge: %w", err)
	}
	if c.Nudge.Enabled && c.ChatID == 0 {
		return errors.New("nudge: chat_id is required to deliver reminders")
	}
	return nil
}

// HasOwnLLM reports whether the bot uses a dedicated backend.
func (c *TelegramConfig) HasOwnLLM() bool {
	return c.LLM.Provider != ""
}

// RateLimitConfig is a token bucket: PerMinute refill with Burst capacity.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PerMinute, validation.Required, validation.Min(1)),
		validation.Field(&c.Burst, validation.Required, validation.Min(1)),
	)
}

// NudgeConfig configures scheduled reminders.
type NudgeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timezone    string        `yaml:"timezone"`
	StartHour   int           `yaml:"start_hour"`
	EndHour     int           `yaml:"end_hour"`
	MaxPerDay   int           `yaml:"max_per_day"`
	MinInterval time.Duration `yaml:"min_interval"`
	// StalledAfter marks a project stalled when it was not updated for this long.
	StalledAfter time.Duration `yaml:"stalled_after"`
	LedgerPath   string        `yaml:"ledger_path"`
}

// Validate validates the nudge configuration.
func (c *NudgeConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.By(func(any) error {
			_, err := time.LoadLocation(c.Timezone)
			return err
		})),
		validation.Field(&c.StartHour, validation.Min(0), validation.Max(23)),
		validation.Field(&c.EndHour, validation.Required, validation.Min(1), validation.Max(24)),
		validation.Field(&c.MaxPerDay, validation.Required, validation.Min(1)),
		validation.Field(&c.MinInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.StalledAfter, validation.Required),
		validation.Field(&c.LedgerPath, validation.Required),
	); err != nil {
		return err
	}
	if c.StartHour >= c.EndHour {
		return fmt.Errorf("start_hour %d must be before end_hour %d", c.StartHour, c.EndHour)
	}
	return nil
}

// Location returns the configured time zone, defaulting to local time.
func (c *NudgeConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8000,
			},
		},
		Vault: VaultConfig{
			Path:             "./vault",
			ExcerptLength:    vault.DefaultExcerptLength,
			RecentLimit:      10,
			DailyNotesFolder: "Daily-Notes",
			ProjectsFolder:   "Projects",
			IgnoredDirs:      []string{".obsidian", ".git", ".trash"},
			Watch:            true,
		},
		LLM: LLMConfig{
			Provider:  llm.ProviderOllama,
			BaseURL:   llm.DefaultOpenAIBaseURL,
			Model:     "qwen2.5-coder:7b",
			Timeout:   2 * time.Minute,
			MaxTokens: 2048,
		},
		Telegram: TelegramConfig{
			RateLimit:            RateLimitConfig{PerMinute: 20, Burst: 5},
			MaxHistory:           20,
			LLMRequestsPerMinute: 50,
			Nudge: NudgeConfig{
				Enabled:      true,
				StartHour:    8,
				EndHour:      22,
				MaxPerDay:    5,
				MinInterval:  2 * time.Hour,
				StalledAfter: 7 * 24 * time.Hour,
				LedgerPath:   "./steward.db",
			},
		},
	}
}
