package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
)

// DefaultOpenAIBaseURL points at a local Ollama daemon's OpenAI-compatible API.
const DefaultOpenAIBaseURL = "http://localhost:11434/v1"

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
	cfg    Config
}

// NewOpenAI creates an adapter. SDK retries are disabled.
func NewOpenAI(cfg Config) *OpenAI {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		// Local daemons ignore the key but the header must be present.
		apiKey = "ollama"
	}
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(apiKey),
		ooption.WithBaseURL(strings.TrimSpace(cfg.BaseURL)),
		ooption.WithMaxRetries(0),
		ooption.WithRequestTimeout(cfg.Timeout),
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) params(msgs []models.Message) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	out = append(out, openai.SystemMessage(o.cfg.SystemPrompt))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.cfg.Model),
		Messages:  out,
		MaxTokens: openai.Int(int64(o.cfg.MaxTokens)),
	}
}

func (o *OpenAI) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(msgs))
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrLLMUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", apperr.ErrLLMUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, msgs []models.Message) (*Stream, error) {
	return newStream(&openAISource{stream: o.client.Chat.Completions.NewStreaming(ctx, o.params(msgs))})
}

// Health lists models, which every OpenAI-compatible server supports cheaply.
func (o *OpenAI) Health(ctx context.Context) bool {
	_, err := o.client.Models.List(ctx)
	return err == nil
}

type openAISource struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAISource) Next() bool { return s.stream.Next() }

func (s *openAISource) Fragment() string {
	chunk := s.stream.Current()
	var b strings.Builder
	for _, c := range chunk.Choices {
		b.WriteString(c.Delta.Content)
	}
	return b.String()
}

func (s *openAISource) Err() error   { return s.stream.Err() }
func (s *openAISource) Close() error { return s.stream.Close() }
