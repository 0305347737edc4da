package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
)

// Anthropic talks to the hosted Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropic creates an adapter. SDK retries are disabled.
func NewAnthropic(cfg Config) *Anthropic {
	cfg = cfg.withDefaults()
	opts := []aoption.RequestOption{
		aoption.WithMaxRetries(0),
		aoption.WithRequestTimeout(cfg.Timeout),
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, aoption.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, aoption.WithBaseURL(base))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (a *Anthropic) Model() string { return a.cfg.Model }

func (a *Anthropic) params(msgs []models.Message) anthropic.MessageNewParams {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: a.cfg.SystemPrompt}},
		Messages:  out,
	}
}

func (a *Anthropic) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	msg, err := a.client.Messages.New(ctx, a.params(msgs))
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrLLMUnavailable, err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (a *Anthropic) Stream(ctx context.Context, msgs []models.Message) (*Stream, error) {
	return newStream(&anthropicSource{stream: a.client.Messages.NewStreaming(ctx, a.params(msgs))})
}

func (a *Anthropic) Health(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

type anthropicSource struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicSource) Next() bool { return s.stream.Next() }

func (s *anthropicSource) Fragment() string {
	ev, ok := s.stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return ""
	}
	if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
		return d.Text
	}
	return ""
}

func (s *anthropicSource) Err() error   { return s.stream.Err() }
func (s *anthropicSource) Close() error { return s.stream.Close() }
