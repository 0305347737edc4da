// Package chat turns a conversation into a reply, routing slash commands to
// the vault and everything else to the language model.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/models"
)

// Reply is the result of Respond. Exactly one of Text or Stream is meaningful:
// Stream is set only for streamed model output.
type Reply struct {
	Text    string
	Stream  *llm.Stream
	Command *command.Command
	// CommandErr carries the conversational failure of a command, if any.
	CommandErr error
}

// Orchestrator is the single entry point for chat requests.
type Orchestrator struct {
	router *command.Router
	llm    llm.Client
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(router *command.Router, client llm.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{router: router, llm: client, logger: logger}
}

// Respond answers msgs. Commands are executed locally and never streamed.
// Backend failures are reported as apperr.ErrLLMUnavailable.
func (o *Orchestrator) Respond(ctx context.Context, msgs []models.Message, streaming bool) (*Reply, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", apperr.ErrInvalidInput)
	}

	last := msgs[len(msgs)-1]
	if last.Role == models.RoleUser {
		if cmd := command.Parse(last.Content); cmd != nil {
			o.logger.Info("chat: command", slog.String("command", cmd.Name))
			rep, err := o.router.Execute(ctx, *cmd)
			if err != nil {
				return nil, err
			}
			return &Reply{Text: rep.Text, Command: cmd, CommandErr: rep.Err}, nil
		}
	}

	if streaming {
		s, err := o.llm.Stream(ctx, msgs)
		if err != nil {
			return nil, err
		}
		return &Reply{Stream: s}, nil
	}

	text, err := o.llm.Complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: text}, nil
}

// Model returns the backend model name.
func (o *Orchestrator) Model() string { return o.llm.Model() }

// Healthy reports whether the backend is reachable.
func (o *Orchestrator) Healthy(ctx context.Context) bool { return o.llm.Health(ctx) }

// Commands lists the supported slash commands.
func (o *Orchestrator) Commands() []command.Definition { return o.router.Definitions() }
