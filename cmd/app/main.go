package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/starford/steward/internal"
	pkgconfig "github.com/starford/steward/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}

	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runTelegram(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunTelegram(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("telegram run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func ask(ctx context.Context, cmd *cli.Command) error {
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		return errors.New("usage: steward ask <message or /command>")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelWarn
	}

	answer, err := internal.Ask(ctx, message, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, render(answer, cmd.Bool("raw")))
	return nil
}

// render formats markdown for the terminal. Piped output stays plain.
func render(text string, raw bool) string {
	fd := int(os.Stdout.Fd())
	if raw || !term.IsTerminal(fd) {
		return text
	}

	width := 80
	if w, _, err := term.GetSize(fd); err == nil && w > 20 && w < width {
		width = w
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func main() {
	cmd := &cli.Command{
		Name:    "steward",
		Usage:   "Self-hosted personal assistant over a markdown notes vault",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (and the Telegram bot when enabled)",
				Action: serve,
			},
			{
				Name:   "telegram",
				Usage:  "Run only the Telegram bot and its reminders",
				Action: runTelegram,
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only vault tools over MCP stdio",
				Action: runMCP,
			},
			{
				Name:      "ask",
				Usage:     "Answer one message or slash command and exit",
				ArgsUsage: "<message or /command>",
				Action:    ask,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "raw", Usage: "Print the reply without markdown rendering"},
					&cli.BoolFlag{Name: "verbose", Usage: "Show info logs on stderr"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
