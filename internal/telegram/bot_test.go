package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/nudge"
	"github.com/starford/steward/internal/projects"
	"github.com/starford/steward/internal/testutil"
)

const owner int64 = 1001

type fakeTransport struct {
	mu   sync.Mutex
	in   chan Update
	sent []Outgoing
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan Update, 8)}
}

func (f *fakeTransport) Updates(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-f.in:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeTransport) Send(_ context.Context, msg Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) messages() []Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outgoing(nil), f.sent...)
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

var testNow = time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

type fixture struct {
	bot       *Bot
	transport *fakeTransport
	llm       *testutil.FakeLLM
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	_, r := testutil.TestVault(t, map[string]string{
		"notes/groceries.md":        "Buy milk\nbuy bread\noat milk",
		"Daily-Notes/2024-06-12.md": "Standup at 10.",
		"Projects/Website.md":       "---\ntitle: Website Redesign\nprogress: 40\npriority: high\n---\n",
		"Projects/Goal-Japanese.md": "---\ntitle: Learn Japanese\nprogress: 70\n---\n",
	})
	clock := func() time.Time { return testNow }
	router := command.NewRouter(r, command.WithDailyFolder("Daily-Notes"), command.WithClock(clock))
	fake := &testutil.FakeLLM{Reply: "Sure thing.", Healthy: true}
	tr := newFakeTransport()

	if cfg.PerMinute == 0 {
		cfg.PerMinute, cfg.Burst = 60, 100
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = 20
	}
	base := []Option{
		WithClock(clock),
		WithVault(r),
		WithProjects(projects.NewScanner(r, "Projects", time.UTC, nil)),
		WithProgressLog(testutil.TestLedger(t)),
	}
	b := NewBot(cfg, tr, router, fake, append(base, opts...)...)
	return &fixture{bot: b, transport: tr, llm: fake}
}

func (f *fixture) say(user int64, text string) string {
	return f.bot.Handle(context.Background(), Update{UserID: user, ChatID: user, Username: "ann", Text: text})
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})

	if got := f.say(owner, "/search milk"); !strings.Contains(got, "groceries.md") {
		t.Errorf("owner not pre-authorized: %q", got)
	}
	if got := f.say(2002, "hello"); got != msgNotStarted {
		t.Errorf("stranger got %q", got)
	}
	if f.llm.CallCount() != 0 {
		t.Error("LLM called for unauthorized user")
	}
	if got := f.say(2002, "/start"); !strings.HasPrefix(got, "Welcome, ann!") {
		t.Errorf("/start = %q", got)
	}
	if got := f.say(2002, "hello"); got != "Sure thing." {
		t.Errorf("after /start got %q", got)
	}
}

func TestAuthorization_AllowList(t *testing.T) {
	f := newFixture(t, Config{AllowedUsers: []int64{3003}})

	if got := f.say(2002, "/start"); got != msgPrivate {
		t.Errorf("/start for outsider = %q", got)
	}
	if got := f.say(2002, "hi"); got != msgNotStarted {
		t.Errorf("outsider got %q", got)
	}
	if got := f.say(3003, "hi"); got != "Sure thing." {
		t.Errorf("allowed user got %q", got)
	}
}

func TestEmptyTextIgnored(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	if got := f.say(owner, "   "); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestSharedCommands(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	cases := []struct {
		in   string
		want string
	}{
		{"/search milk", "2 results in 1 files"},
		{"/search", "Missing search query"},
		{"/today", "Standup at 10."},
		{"/recent 1", "1. "},
		{"/help search", "📖 Help: /search"},
		{"/help progress", "/progress <0-100>"},
		{"/help nope", "Command not found: /nope"},
		{"/frobnicate", "Unknown command: /frobnicate"},
	}
	for _, tc := range cases {
		if got := f.say(owner, tc.in); !strings.Contains(got, tc.want) {
			t.Errorf("%s = %q, want it to contain %q", tc.in, got, tc.want)
		}
	}
	if f.llm.CallCount() != 0 {
		t.Error("commands must not reach the LLM")
	}
}

func TestHelpListsBotCommands(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	got := f.say(owner, "/help")
	for _, want := range []string{"/new", "/project <name>", "/progress <0-100>", "/search <query>", "/status"} {
		if !strings.Contains(got, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestChatKeepsHistory(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	f.say(owner, "first question")
	f.llm.Reply = "second answer"
	if got := f.say(owner, "second question"); got != "second answer" {
		t.Fatalf("reply = %q", got)
	}

	call := f.llm.LastCall()
	if len(call) != 3 {
		t.Fatalf("conversation sent = %+v", call)
	}
	if call[0].Content != "first question" || call[1].Content != "Sure thing." || call[2].Content != "second question" {
		t.Errorf("conversation order = %+v", call)
	}
	if n := len(f.bot.convs.Get(owner).Messages); n != 4 {
		t.Errorf("history length = %d", n)
	}
}

func TestChatFailures(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})

	f.llm.Err = fmt.Errorf("%w: connection refused", apperr.ErrLLMUnavailable)
	if got := f.say(owner, "hi"); got != msgLLMDown {
		t.Errorf("backend down = %q", got)
	}
	f.llm.Err = fmt.Errorf("%w: budget", apperr.ErrRateLimited)
	if got := f.say(owner, "hi"); got != msgBudget {
		t.Errorf("budget = %q", got)
	}
	if n := len(f.bot.convs.Get(owner).Messages); n != 0 {
		t.Errorf("failed turns kept in history: %d", n)
	}
}

func TestUserRateLimit(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner, PerMinute: 1, Burst: 2})
	f.say(owner, "/today")
	f.say(owner, "/today")
	if got := f.say(owner, "/today"); got != msgSlowDown {
		t.Errorf("third message = %q", got)
	}
}

func TestProjectContextAndProgress(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})

	if got := f.say(owner, "/progress 50"); got != msgNoContext {
		t.Errorf("progress without context = %q", got)
	}
	if got := f.say(owner, "/project"); !strings.HasPrefix(got, "Usage: /project <name>") {
		t.Errorf("/project usage = %q", got)
	}

	got := f.say(owner, "/project website redesign")
	if !strings.Contains(got, "Project context set to: Website Redesign") || !strings.Contains(got, "40% complete") {
		t.Errorf("/project = %q", got)
	}

	got = f.say(owner, "/goal Japanese")
	if !strings.Contains(got, "Goal context set to: Learn Japanese") {
		t.Errorf("/goal = %q", got)
	}

	for _, bad := range []string{"/progress", "/progress abc", "/progress 101", "/progress -1"} {
		if got := f.say(owner, bad); got == "" || strings.HasPrefix(got, "✅") {
			t.Errorf("%s accepted: %q", bad, got)
		}
	}
	if got := f.say(owner, "/progress 75%"); got != "✅ Updated goal 'Learn Japanese' to 75% complete." {
		t.Errorf("/progress = %q", got)
	}

	got = f.say(owner, "/context")
	if !strings.Contains(got, "Goal: Learn Japanese") || !strings.Contains(got, "Last reported: 75% (2024-06-12)") {
		t.Errorf("/context = %q", got)
	}

	f.say(owner, "how do I practice kanji?")
	if call := f.llm.LastCall(); !strings.HasPrefix(call[len(call)-1].Content, "[Goal: Learn Japanese]\n") {
		t.Errorf("context not passed to model: %q", call[len(call)-1].Content)
	}

	if got := f.say(owner, "/clear"); got != "Conversation context cleared." {
		t.Errorf("/clear = %q", got)
	}
	if got := f.say(owner, "/context"); !strings.Contains(got, "No project/goal context set.") {
		t.Errorf("/context after clear = %q", got)
	}
}

func TestProjectUnknownName(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	got := f.say(owner, "/project Moon Base")
	if !strings.Contains(got, "Project context set to: Moon Base") || !strings.Contains(got, "No matching note") {
		t.Errorf("/project = %q", got)
	}
}

func TestNewConversation(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	f.say(owner, "remember this")
	before := f.bot.convs.Get(owner).ID

	if got := f.say(owner, "/new"); !strings.Contains(got, "new conversation") {
		t.Errorf("/new = %q", got)
	}
	after := f.bot.convs.Get(owner)
	if after.ID == before || len(after.Messages) != 0 {
		t.Errorf("conversation not reset: %+v", after)
	}
}

type fakeReminders struct{}

func (fakeReminders) Status(context.Context) (nudge.Status, error) {
	return nudge.Status{Running: true, SentToday: 2, MaxPerDay: 5, StartHour: 8, EndHour: 22}, nil
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner}, WithReminders(fakeReminders{}))
	got := f.say(owner, "/status")
	for _, want := range []string{"LLM: fake-model (Online)", "Vault: 4 notes", "Reminders: 2/5 sent today, active 8:00-22:00"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "budget") {
		t.Errorf("unlimited client reported a budget:\n%s", got)
	}
}

func TestStatus_LimitedClient(t *testing.T) {
	_, r := testutil.TestVault(t, nil)
	limited := llm.NewLimited(&testutil.FakeLLM{Reply: "ok"}, 50)
	b := NewBot(Config{ChatID: owner, PerMinute: 60, Burst: 10}, newFakeTransport(), command.NewRouter(r), limited)

	got := b.Handle(context.Background(), Update{UserID: owner, ChatID: owner, Text: "/status"})
	if !strings.Contains(got, "LLM budget: 50/50 requests left this minute") || !strings.Contains(got, "Reminders: off") {
		t.Errorf("status:\n%s", got)
	}
}

func TestVaultFailureReply(t *testing.T) {
	b := NewBot(Config{ChatID: owner, PerMinute: 60, Burst: 10}, newFakeTransport(), command.NewRouter(failingVault{}), &testutil.FakeLLM{})
	got := b.Handle(context.Background(), Update{UserID: owner, ChatID: owner, Text: "/search x"})
	if got != msgVaultDown {
		t.Errorf("got %q", got)
	}
}

func TestRunDeliversReplies(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	f.transport.in <- Update{UserID: owner, ChatID: owner, Text: "/today"}
	f.transport.in <- Update{UserID: 999, ChatID: 999, Text: "hello"}

	eventually(t, 2*time.Second, func() bool { return len(f.transport.messages()) == 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	byChat := map[int64]string{}
	for _, m := range f.transport.messages() {
		byChat[m.ChatID] = m.Text
	}
	if !strings.Contains(byChat[owner], "Standup at 10.") {
		t.Errorf("owner reply = %q", byChat[owner])
	}
	if byChat[999] != msgNotStarted {
		t.Errorf("stranger reply = %q", byChat[999])
	}
}

func TestNotifySplitsLongMessages(t *testing.T) {
	f := newFixture(t, Config{ChatID: owner})
	long := strings.Repeat("line of text\n", 700)
	if err := f.bot.Notify(context.Background(), owner, long); err != nil {
		t.Fatal(err)
	}
	msgs := f.transport.messages()
	if len(msgs) < 2 {
		t.Fatalf("parts = %d", len(msgs))
	}
	for _, m := range msgs {
		if n := len(utf16.Encode([]rune(m.Text))); n > MaxMessageLength {
			t.Errorf("part too long: %d", n)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}
	got := SplitMessage("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Errorf("lines = %q", got)
	}
	got = SplitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || got[2] != "xxxxx" {
		t.Errorf("no breaks = %q", got)
	}
}

func TestSplitMessageCountsUTF16(t *testing.T) {
	// Each emoji is one rune but two UTF-16 code units.
	text := strings.Repeat("😀", 3000)
	parts := SplitMessage(text, MaxMessageLength)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	var joined strings.Builder
	for _, p := range parts {
		if n := len(utf16.Encode([]rune(p))); n > MaxMessageLength {
			t.Errorf("part has %d code units", n)
		}
		joined.WriteString(p)
	}
	if joined.String() != text {
		t.Error("split lost text")
	}

	got := SplitMessage("ab😀cd", 3)
	if len(got) != 3 || got[0] != "ab" || got[1] != "😀c" || got[2] != "d" {
		t.Errorf("mixed = %q", got)
	}
}

type failingVault struct{}

var errDisk = errors.New("disk on fire")

func (failingVault) List(context.Context) ([]models.VaultFile, error) { return nil, errDisk }
func (failingVault) Read(context.Context, string) (string, error)     { return "", errDisk }
func (failingVault) Recent(context.Context, int) ([]models.RecentFile, error) {
	return nil, errDisk
}
func (failingVault) Search(context.Context, string) ([]models.SearchHit, error) {
	return nil, errDisk
}
