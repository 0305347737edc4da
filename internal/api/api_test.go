package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/chat"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/testutil"
	"github.com/starford/steward/internal/vault"
)

// testEnv builds a router over a temp vault and a fake model.
func testEnv(t *testing.T, files map[string]string, fake *testutil.FakeLLM) (string, http.Handler) {
	t.Helper()
	dir, v := testutil.TestVault(t, files)
	orch := chat.NewOrchestrator(command.NewRouter(v), fake, nil)
	return dir, NewRouter(NewHandler(orch, v, 10), nil, nil)
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func chatBody(stream bool, contents ...string) map[string]any {
	msgs := make([]map[string]string, 0, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, map[string]string{"role": role, "content": c})
	}
	return map[string]any{"messages": msgs, "stream": stream}
}

func TestChatCommand(t *testing.T) {
	fake := &testutil.FakeLLM{}
	_, router := testEnv(t, map[string]string{"x.md": "foo\nbar\nfoo again\n"}, fake)

	w := do(t, router, http.MethodPost, "/chat/message", chatBody(true, "/search foo"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[ChatResponse](t, w)
	if !strings.Contains(resp.Response, "2 results in 1 files") {
		t.Errorf("response = %q", resp.Response)
	}
	if fake.CallCount() != 0 {
		t.Error("commands must not reach the model")
	}
}

func TestChatUnknownCommandIsOK(t *testing.T) {
	_, router := testEnv(t, nil, &testutil.FakeLLM{})
	w := do(t, router, http.MethodPost, "/chat/message", chatBody(false, "/bogus"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[ChatResponse](t, w); !strings.Contains(resp.Response, "/help") {
		t.Errorf("response = %q", resp.Response)
	}
}

func TestChatComplete(t *testing.T) {
	fake := &testutil.FakeLLM{Reply: "hello there"}
	_, router := testEnv(t, nil, fake)
	w := do(t, router, http.MethodPost, "/chat/message", chatBody(false, "hi", "hey", "how are you"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[ChatResponse](t, w); resp.Response != "hello there" {
		t.Errorf("response = %q", resp.Response)
	}
	if got := fake.LastCall(); len(got) != 3 {
		t.Errorf("model saw %d messages", len(got))
	}
}

func TestChatStream(t *testing.T) {
	fake := &testutil.FakeLLM{Fragments: []string{"Hel", "lo\nworld"}}
	_, router := testEnv(t, nil, fake)
	w := do(t, router, http.MethodPost, "/chat/message", chatBody(true, "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content-type = %q", ct)
	}
	want := "data: Hel\n\ndata: lo\ndata: world\n\ndata: [DONE]\n\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestChatStreamFailsMidway(t *testing.T) {
	fake := &testutil.FakeLLM{
		Fragments: []string{"Hel"},
		StreamErr: errors.New("connection reset"),
	}
	_, router := testEnv(t, nil, fake)
	w := do(t, router, http.MethodPost, "/chat/message", chatBody(true, "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	want := "data: Hel\n\nevent: error\ndata: LLM service unavailable\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if strings.Contains(body, streamDone) {
		t.Error("truncated reply marked as complete")
	}
}

func TestChatInvalid(t *testing.T) {
	_, router := testEnv(t, nil, &testutil.FakeLLM{})
	cases := map[string]any{
		"empty messages": map[string]any{"messages": []any{}},
		"missing field":  map[string]any{"stream": true},
		"bad role":       map[string]any{"messages": []map[string]string{{"role": "system", "content": "x"}}},
		"empty content":  map[string]any{"messages": []map[string]string{{"role": "user", "content": ""}}},
		"malformed json": "{not json",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/chat/message", body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422 (body %s)", w.Code, w.Body.String())
			}
			if e := decode[errResponse](t, w); e.Detail == "" {
				t.Error("detail missing")
			}
		})
	}
}

func TestChatLLMUnavailable(t *testing.T) {
	fake := &testutil.FakeLLM{Err: fmt.Errorf("%w: refused", apperr.ErrLLMUnavailable)}
	_, router := testEnv(t, nil, fake)
	for _, stream := range []bool{false, true} {
		w := do(t, router, http.MethodPost, "/chat/message", chatBody(stream, "hi"))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("stream=%v status = %d", stream, w.Code)
		}
		if e := decode[errResponse](t, w); e.Detail != "LLM service unavailable" {
			t.Errorf("detail = %q", e.Detail)
		}
	}
}

func TestChatHealth(t *testing.T) {
	_, router := testEnv(t, nil, &testutil.FakeLLM{Healthy: true})
	w := do(t, router, http.MethodGet, "/chat/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[ChatHealthResponse](t, w); resp.Status != "healthy" || resp.Model != "fake-model" {
		t.Errorf("resp = %+v", resp)
	}

	_, router = testEnv(t, nil, &testutil.FakeLLM{})
	if w := do(t, router, http.MethodGet, "/chat/health", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", w.Code)
	}
}

func TestVaultFiles(t *testing.T) {
	_, router := testEnv(t, map[string]string{"notes/a.md": "hello world", "b.md": "b", "c.txt": "c"}, &testutil.FakeLLM{})
	w := do(t, router, http.MethodGet, "/vault/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[FileListResponse](t, w)
	if resp.Count != 2 || len(resp.Files) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Files[1].Path != "notes/a.md" || resp.Files[1].Folder != "notes" || resp.Files[1].Name != "a.md" {
		t.Errorf("files[1] = %+v", resp.Files[1])
	}
}

func TestVaultFilesUnavailable(t *testing.T) {
	v, err := vault.NewReader(filepath.Join(t.TempDir(), "missing"), vault.Options{})
	if err != nil {
		t.Fatal(err)
	}
	orch := chat.NewOrchestrator(command.NewRouter(v), &testutil.FakeLLM{}, nil)
	router := NewRouter(NewHandler(orch, v, 10), nil, nil)

	if w := do(t, router, http.MethodGet, "/vault/files", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	w := do(t, router, http.MethodGet, "/health", nil)
	if resp := decode[HealthResponse](t, w); resp.Status != "unhealthy" || resp.Vault != "unavailable" {
		t.Errorf("health = %+v", resp)
	}
}

func TestVaultFile(t *testing.T) {
	dir, router := testEnv(t, map[string]string{"notes/a.md": "hello world"}, &testutil.FakeLLM{})
	if err := os.WriteFile(filepath.Join(filepath.Dir(dir), "outside.md"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodGet, "/vault/file?path=notes/a.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[FileContentResponse](t, w); resp.Content != "hello world" || resp.Path != "notes/a.md" {
		t.Errorf("resp = %+v", resp)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/vault/file?path=missing.md", http.StatusNotFound},
		{"/vault/file?path=notes/a.md/b.md", http.StatusNotFound},
		{"/vault/file?path=../../etc/passwd", http.StatusForbidden},
		{"/vault/file?path=../outside.md", http.StatusForbidden},
		{"/vault/file?path=%2Fetc%2Fpasswd", http.StatusForbidden},
		{"/vault/file", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		w := do(t, router, http.MethodGet, tt.target, nil)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.target, w.Code, tt.want)
		}
		if strings.Contains(w.Body.String(), "secret") {
			t.Errorf("%s leaked content", tt.target)
		}
	}
}

func TestVaultRecent(t *testing.T) {
	_, router := testEnv(t, map[string]string{"a.md": "a", "b.md": "b", "c.md": "c"}, &testutil.FakeLLM{})

	w := do(t, router, http.MethodGet, "/vault/recent?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[RecentResponse](t, w); resp.Count != 2 {
		t.Errorf("count = %d", resp.Count)
	}

	w = do(t, router, http.MethodGet, "/vault/recent?limit=0", nil)
	if resp := decode[RecentResponse](t, w); resp.Count != 0 {
		t.Errorf("limit=0 count = %d", resp.Count)
	}

	if w := do(t, router, http.MethodGet, "/vault/recent?limit=abc", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestVaultSearch(t *testing.T) {
	_, router := testEnv(t, map[string]string{"x.md": "foo\nbar\nfoo again\n"}, &testutil.FakeLLM{})
	w := do(t, router, http.MethodGet, "/vault/search?q=FOO", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[SearchResponse](t, w)
	if resp.Count != 2 || resp.Results[1].Line != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if w := do(t, router, http.MethodGet, "/vault/search", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing q status = %d", w.Code)
	}
}

func TestCommandsAndHealth(t *testing.T) {
	_, router := testEnv(t, nil, &testutil.FakeLLM{Healthy: true})

	w := do(t, router, http.MethodGet, "/commands", nil)
	resp := decode[map[string][]command.Definition](t, w)
	if len(resp["commands"]) == 0 {
		t.Errorf("commands = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/health", nil)
	if h := decode[HealthResponse](t, w); h.Status != "healthy" || h.LLM != "connected" {
		t.Errorf("health = %+v", h)
	}
	if w := do(t, router, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	_, router := testEnv(t, nil, &testutil.FakeLLM{})
	req := httptest.NewRequest(http.MethodOptions, "/chat/message", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}
