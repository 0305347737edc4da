package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
)

var conversation = []models.Message{
	models.UserMessage("hi"),
	models.AssistantMessage("hello"),
	models.UserMessage("how are you?"),
}

func openAIServer(t *testing.T, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[{"id":"test-model","object":"model","created":0,"owned_by":"me"}]}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			body, _ := io.ReadAll(r.Body)
			var req map[string]any
			_ = json.Unmarshal(body, &req)
			if seen != nil {
				*seen = append(*seen, req)
			}
			if stream, _ := req["stream"].(bool); stream {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, frag := range []string{"Hel", "lo", "\nworld"} {
					chunk, _ := json.Marshal(map[string]any{
						"id": "c1", "object": "chat.completion.chunk", "created": 0, "model": "test-model",
						"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": frag}}},
					})
					fmt.Fprintf(w, "data: %s\n\n", chunk)
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"test-model",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"full answer"}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIComplete(t *testing.T) {
	var seen []map[string]any
	srv := openAIServer(t, &seen)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "test-model", SystemPrompt: "be brief"})

	got, err := c.Complete(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "full answer" {
		t.Errorf("got %q", got)
	}
	if len(seen) != 1 {
		t.Fatalf("requests = %d", len(seen))
	}
	msgs, _ := seen[0]["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages = %v", msgs)
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
	last, _ := msgs[3].(map[string]any)
	if last["role"] != "user" {
		t.Errorf("order not preserved: %v", msgs)
	}
}

func TestOpenAIStream(t *testing.T) {
	srv := openAIServer(t, nil)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "test-model"})

	s, err := c.Stream(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var frags []string
	for s.Next() {
		frags = append(frags, s.Current())
	}
	_ = s.Close()
	if err := s.Err(); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if strings.Join(frags, "|") != "Hel|lo|\nworld" {
		t.Errorf("frags = %q", frags)
	}
}

func TestOpenAIStreamDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk, _ := json.Marshal(map[string]any{
			"id": "c1", "object": "chat.completion.chunk", "created": 0, "model": "test-model",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": "Hel"}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		w.(http.Flusher).Flush()
		// Abort without the [DONE] sentinel; the client sees a truncated body.
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(srv.Close)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "test-model", Timeout: 5 * time.Second})

	s, err := c.Stream(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()
	if !s.Next() || s.Current() != "Hel" {
		t.Fatalf("first fragment = %q", s.Current())
	}
	for s.Next() {
		t.Errorf("unexpected fragment %q", s.Current())
	}
	if err := s.Err(); !errors.Is(err, apperr.ErrLLMUnavailable) {
		t.Errorf("Err = %v, want ErrLLMUnavailable", err)
	}
}

func TestStreamFailing(t *testing.T) {
	boom := errors.New("connection reset")
	got, err := StreamFailing(boom, "a", "b").Collect()
	if got != "ab" {
		t.Errorf("got %q", got)
	}
	if !errors.Is(err, apperr.ErrLLMUnavailable) || !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}

	if _, err := StreamFailing(boom).Collect(); !errors.Is(err, boom) {
		t.Errorf("empty failing stream err = %v", err)
	}
}

func TestOpenAIHealth(t *testing.T) {
	srv := openAIServer(t, nil)
	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "test-model"})
	if !c.Health(context.Background()) {
		t.Error("expected healthy")
	}
	if c.Model() != "test-model" {
		t.Errorf("model = %q", c.Model())
	}
}

func TestOpenAIUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAI(Config{BaseURL: url + "/v1", Model: "m", Timeout: 2 * time.Second})
	ctx := context.Background()
	if c.Health(ctx) {
		t.Error("expected unhealthy")
	}
	if _, err := c.Complete(ctx, conversation); !errors.Is(err, apperr.ErrLLMUnavailable) {
		t.Errorf("Complete err = %v", err)
	}
	if _, err := c.Stream(ctx, conversation); !errors.Is(err, apperr.ErrLLMUnavailable) {
		t.Errorf("Stream err = %v", err)
	}
}

func TestOpenAIServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "m"})
	if _, err := c.Complete(context.Background(), conversation); !errors.Is(err, apperr.ErrLLMUnavailable) {
		t.Errorf("err = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want exactly 1", n)
	}
}

func anthropicServer(t *testing.T, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/v1/models"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data":[{"id":"claude-test","type":"model","display_name":"Test","created_at":"2025-01-01T00:00:00Z"}],"has_more":false,"first_id":"claude-test","last_id":"claude-test"}`)
		case strings.HasSuffix(r.URL.Path, "/v1/messages"):
			body, _ := io.ReadAll(r.Body)
			var req map[string]any
			_ = json.Unmarshal(body, &req)
			if seen != nil {
				*seen = append(*seen, req)
			}
			if stream, _ := req["stream"].(bool); stream {
				w.Header().Set("Content-Type", "text/event-stream")
				events := []struct{ name, data string }{
					{"message_start", `{"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":0}}}`},
					{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
					{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Good"}}`},
					{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" day"}}`},
					{"content_block_stop", `{"type":"content_block_stop","index":0}`},
					{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`},
					{"message_stop", `{"type":"message_stop"}`},
				}
				for _, e := range events {
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, e.data)
				}
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"m1","type":"message","role":"assistant","model":"claude-test",
				"content":[{"type":"text","text":"hosted answer"}],
				"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":2}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicComplete(t *testing.T) {
	var seen []map[string]any
	srv := anthropicServer(t, &seen)
	c := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", Model: "claude-test", SystemPrompt: "sys"})

	got, err := c.Complete(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hosted answer" {
		t.Errorf("got %q", got)
	}
	if len(seen) != 1 {
		t.Fatalf("requests = %d", len(seen))
	}
	if msgs, _ := seen[0]["messages"].([]any); len(msgs) != 3 {
		t.Errorf("messages = %v", seen[0]["messages"])
	}
	if seen[0]["system"] == nil {
		t.Error("system prompt missing")
	}
}

func TestAnthropicStreamAndHealth(t *testing.T) {
	srv := anthropicServer(t, nil)
	c := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", Model: "claude-test"})

	s, err := c.Stream(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got, err := s.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "Good day" {
		t.Errorf("got %q", got)
	}
	if !c.Health(context.Background()) {
		t.Error("expected healthy")
	}
}

func TestStreamOf(t *testing.T) {
	s := StreamOf("a", "", "b")
	got, err := s.Collect()
	if err != nil || got != "ab" {
		t.Errorf("Collect = %q, %v", got, err)
	}
	if s.Next() {
		t.Error("stream must be one-shot")
	}

	empty := StreamOf()
	if empty.Next() {
		t.Error("empty stream yielded a fragment")
	}
}

type countingClient struct {
	Client
	calls int
}

func (c *countingClient) Complete(context.Context, []models.Message) (string, error) {
	c.calls++
	return "ok", nil
}

func TestLimited(t *testing.T) {
	inner := &countingClient{}
	l := NewLimited(inner, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Complete(ctx, conversation); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := l.Complete(ctx, conversation); !errors.Is(err, apperr.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d", inner.calls)
	}
	if l.Remaining() != 0 {
		t.Errorf("remaining = %d", l.Remaining())
	}
	if l.Limit() != 2 {
		t.Errorf("limit = %d", l.Limit())
	}
}

func TestNewProvider(t *testing.T) {
	for _, p := range []string{"", "openai", "ollama", "Anthropic"} {
		if _, err := New(Config{Provider: p, Model: "m"}); err != nil {
			t.Errorf("New(%q): %v", p, err)
		}
	}
	if _, err := New(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
