// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/steward/internal/api"
	"github.com/starford/steward/internal/chat"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/ledger"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/mcpserver"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/nudge"
	"github.com/starford/steward/internal/projects"
	"github.com/starford/steward/internal/sse"
	"github.com/starford/steward/internal/telegram"
	"github.com/starford/steward/internal/vault"
	"github.com/starford/steward/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// Run starts the HTTP API, the vault watcher and, when enabled, the Telegram
// bot. It blocks until a shutdown signal arrives or ctx is done.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}

	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("llm_model", cfg.LLM.Model),
		slog.Bool("telegram", cfg.Telegram.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	reader, router, err := app.openVault(logger)
	if err != nil {
		return err
	}

	client, err := llm.New(cfg.LLM.ClientConfig())
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	orchestrator := chat.NewOrchestrator(router, client, logger)
	handler := api.NewHandler(orchestrator, reader, cfg.Vault.RecentLimit)
	apiRouter := api.NewRouter(handler, cfg.App.HTTP.AllowedOrigins, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if cfg.Vault.Watch {
		g.Go(func() error {
			err := watch.Watch(gCtx, reader, logger, func(kind, path string) {
				broker.PublishFileEvent(kind, path)
			})
			if err != nil {
				logger.Warn("vault watcher disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if cfg.Telegram.Enabled {
		g.Go(func() error {
			if err := app.runBot(gCtx, reader, router, logger); err != nil {
				logger.Error("Telegram bot stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunTelegram runs only the Telegram bot and its reminder scheduler.
func RunTelegram(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	if !app.config.Telegram.Enabled {
		return errors.New("telegram is disabled: set telegram.enabled and telegram.token")
	}

	logger := app.logger()
	reader, router, err := app.openVault(logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.runBot(gCtx, reader, router, logger)
	})
	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Bot stopped successfully")
	return nil
}

// RunMCP serves the vault tools over stdio until stdin closes.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...)...)
	if err != nil {
		return err
	}

	logger := app.logger()
	reader, router, err := app.openVault(logger)
	if err != nil {
		return err
	}

	srv := mcpserver.New(reader, router, app.version, app.config.Vault.RecentLimit)
	logger.Info("MCP server starting on stdio", slog.String("vault_path", app.config.Vault.Path))
	return srv.ServeStdio()
}

// Ask answers a single message, which may be a slash command, and returns the
// reply text.
func Ask(ctx context.Context, message string, opts ...Option) (string, error) {
	app, err := newApplication(opts...)
	if err != nil {
		return "", err
	}

	logger := app.logger()
	_, router, err := app.openVault(logger)
	if err != nil {
		return "", err
	}
	client, err := llm.New(app.config.LLM.ClientConfig())
	if err != nil {
		return "", fmt.Errorf("init llm: %w", err)
	}

	orchestrator := chat.NewOrchestrator(router, client, logger)
	reply, err := orchestrator.Respond(ctx, []models.Message{models.UserMessage(message)}, false)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (a *application) openVault(logger *slog.Logger) (*vault.Reader, *command.Router, error) {
	cfg := a.config
	reader, err := vault.NewReader(cfg.Vault.Path, cfg.Vault.ReaderOptions(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("init vault: %w", err)
	}
	if err := reader.Available(); err != nil {
		logger.Warn("vault not available yet", slog.String("vault_path", cfg.Vault.Path), slog.String("error", err.Error()))
	}

	router := command.NewRouter(reader,
		command.WithDailyFolder(cfg.Vault.DailyNotesFolder),
		command.WithRecentLimit(cfg.Vault.RecentLimit),
	)
	return reader, router, nil
}

// runBot wires the bot, its model budget, the ledger and the reminder
// scheduler, then processes updates until ctx is done.
func (a *application) runBot(ctx context.Context, reader *vault.Reader, router *command.Router, logger *slog.Logger) error {
	cfg := a.config.Telegram
	logger = logger.With(slog.String("component", "telegram"))

	llmCfg := a.config.LLM
	if cfg.HasOwnLLM() {
		llmCfg = cfg.LLM
	}
	base, err := llm.New(llmCfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("init telegram llm: %w", err)
	}
	client := llm.NewLimited(base, cfg.LLMRequestsPerMinute)

	transport, err := telegram.NewBotAPI(cfg.Token, logger)
	if err != nil {
		return err
	}

	loc := cfg.Nudge.Location()
	scanner := projects.NewScanner(reader, a.config.Vault.ProjectsFolder, loc, logger)

	botOpts := []telegram.Option{
		telegram.WithVault(reader),
		telegram.WithProjects(scanner),
		telegram.WithLogger(logger),
	}

	var db *ledger.DB
	if cfg.Nudge.LedgerPath != "" {
		db, err = ledger.Open(cfg.Nudge.LedgerPath)
		if err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		defer db.Close()
		botOpts = append(botOpts, telegram.WithProgressLog(db))
	}

	var bot *telegram.Bot
	var scheduler *nudge.Scheduler
	if cfg.Nudge.Enabled && db != nil {
		scheduler = nudge.New(nudge.Config{
			ChatID:       cfg.ChatID,
			StartHour:    cfg.Nudge.StartHour,
			EndHour:      cfg.Nudge.EndHour,
			MaxPerDay:    cfg.Nudge.MaxPerDay,
			MinInterval:  cfg.Nudge.MinInterval,
			StalledAfter: cfg.Nudge.StalledAfter,
			Location:     loc,
			DailyFolder:  a.config.Vault.DailyNotesFolder,
		},
			nudge.SenderFunc(func(ctx context.Context, chatID int64, text string) error {
				return bot.Notify(ctx, chatID, text)
			}),
			db,
			nudge.WithProjects(scanner),
			nudge.WithReflection(reader, client),
			nudge.WithLogger(logger.With(slog.String("component", "nudge"))),
		)
		botOpts = append(botOpts, telegram.WithReminders(scheduler))
	}

	bot = telegram.NewBot(telegram.Config{
		ChatID:       cfg.ChatID,
		AllowedUsers: cfg.AllowedUsers,
		PerMinute:    cfg.RateLimit.PerMinute,
		Burst:        cfg.RateLimit.Burst,
		MaxHistory:   cfg.MaxHistory,
	}, transport, router, client, botOpts...)

	if scheduler != nil {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start reminders: %w", err)
		}
		defer scheduler.Stop()
	}

	return bot.Run(ctx)
}

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
