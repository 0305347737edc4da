// Package telegram runs the assistant as a Telegram bot.
//
// Shared slash commands (help, search, recent, today) go through the command
// router; the bot adds conversation and project commands of its own. Any other
// text is answered by the language model with the user's recent history.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"golang.org/x/sync/errgroup"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/ledger"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/nudge"
	"github.com/starford/steward/internal/projects"
	"github.com/starford/steward/internal/vault"
)

// MaxMessageLength is the longest text Telegram accepts in one message.
const MaxMessageLength = 4096

const maxConcurrentUpdates = 4

const (
	msgNotStarted  = "Please /start first."
	msgPrivate     = "Sorry, this assistant is private."
	msgSlowDown    = "⏳ Too many messages. Please wait a moment."
	msgBudget      = "⏳ The assistant's request budget is used up. Try again in a minute."
	msgLLMDown     = "⚠️ Sorry, I couldn't generate a response: LLM service unavailable."
	msgVaultDown   = "⚠️ The vault is unavailable right now. Try again later."
	msgNoContext   = "No project or goal context set.\nUse /project or /goal first."
	msgBadProgress = "Progress must be a number from 0 to 100."
)

// Bot-only commands. Shared ones come from the command package.
var botCommands = []command.Definition{
	{Name: "start", Description: "Authorize this chat and show a welcome message", Usage: "/start"},
	{Name: "new", Description: "Start a fresh conversation", Usage: "/new"},
	{Name: "context", Description: "Show the current conversation state", Usage: "/context"},
	{Name: "clear", Description: "Clear the project or goal context", Usage: "/clear"},
	{Name: "status", Description: "Show system status", Usage: "/status"},
	{Name: "project", Description: "Link the conversation to a project", Usage: "/project <name>", Examples: []string{"/project Website Redesign"}},
	{Name: "goal", Description: "Link the conversation to a goal", Usage: "/goal <name>", Examples: []string{"/goal Learn Japanese N3"}},
	{Name: "progress", Description: "Report progress on the linked project or goal", Usage: "/progress <0-100>", Examples: []string{"/progress 40"}},
}

// ProjectFinder looks up project notes by name.
type ProjectFinder interface {
	Find(ctx context.Context, name string) (projects.Item, bool, error)
}

// ProgressLog stores progress reports.
type ProgressLog interface {
	RecordProgress(ctx context.Context, p ledger.Progress) error
	LatestProgress(ctx context.Context, kind, name string) (ledger.Progress, bool, error)
}

// ReminderStatus reports scheduled reminder counters.
type ReminderStatus interface {
	Status(ctx context.Context) (nudge.Status, error)
}

// budget is implemented by rate-limited LLM clients.
type budget interface {
	Remaining() int
	Limit() int
}

// Config configures access and limits.
type Config struct {
	// ChatID is the owner's chat. It is always authorized and receives reminders.
	ChatID int64
	// AllowedUsers restricts /start. When empty, anyone may start the bot.
	AllowedUsers []int64
	PerMinute    int
	Burst        int
	MaxHistory   int
}

// Bot handles Telegram updates.
type Bot struct {
	cfg       Config
	transport Transport
	router    *command.Router
	llm       llm.Client
	vault     vault.Provider
	projects  ProjectFinder
	progress  ProgressLog
	reminders ReminderStatus
	logger    *slog.Logger
	now       func() time.Time

	convs   *Conversations
	limiter *userLimiter

	mu         sync.RWMutex
	authorized map[int64]struct{}
	allowed    map[int64]struct{}
}

// Option configures a Bot.
type Option func(*Bot)

// WithVault lets /status count notes.
func WithVault(v vault.Provider) Option {
	return func(b *Bot) { b.vault = v }
}

// WithProjects lets /project and /goal resolve notes in the vault.
func WithProjects(p ProjectFinder) Option {
	return func(b *Bot) { b.projects = p }
}

// WithProgressLog records /progress reports.
func WithProgressLog(p ProgressLog) Option {
	return func(b *Bot) { b.progress = p }
}

// WithReminders adds reminder counters to /status.
func WithReminders(r ReminderStatus) Option {
	return func(b *Bot) { b.reminders = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// NewBot creates a Bot. The configured chat and allowed users start authorized.
func NewBot(cfg Config, t Transport, router *command.Router, client llm.Client, opts ...Option) *Bot {
	b := &Bot{
		cfg:        cfg,
		transport:  t,
		router:     router,
		llm:        client,
		logger:     slog.Default(),
		now:        time.Now,
		authorized: make(map[int64]struct{}),
		allowed:    make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.convs = NewConversations(cfg.MaxHistory, b.now)
	b.limiter = newUserLimiter(cfg.PerMinute, cfg.Burst, b.now)

	for _, id := range cfg.AllowedUsers {
		b.allowed[id] = struct{}{}
		b.authorized[id] = struct{}{}
	}
	if cfg.ChatID != 0 {
		b.allowed[cfg.ChatID] = struct{}{}
		b.authorized[cfg.ChatID] = struct{}{}
	}
	return b
}

// Run processes updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	updates, err := b.transport.Updates(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("Telegram bot started", slog.Int64("chat_id", b.cfg.ChatID))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates)
	for u := range updates {
		g.Go(func() error {
			reply := b.Handle(gCtx, u)
			if reply == "" {
				return nil
			}
			if err := b.Notify(gCtx, u.ChatID, reply); err != nil {
				b.logger.Error("send reply", slog.Int64("chat_id", u.ChatID), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	b.logger.Info("Telegram bot stopped")
	return nil
}

// Notify sends text to chatID, split to fit Telegram's message limit.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	for _, part := range SplitMessage(text, MaxMessageLength) {
		if err := b.transport.Send(ctx, Outgoing{ChatID: chatID, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

// Handle returns the reply to u, or "" when there is nothing to say.
func (b *Bot) Handle(ctx context.Context, u Update) string {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return ""
	}
	cmd := command.Parse(stripMention(text))

	if cmd != nil && cmd.Name == "start" {
		return b.start(u)
	}
	if !b.isAuthorized(u.UserID) {
		return msgNotStarted
	}
	if !b.limiter.Allow(u.UserID) {
		b.logger.Warn("user rate limited", slog.Int64("user_id", u.UserID))
		return msgSlowDown
	}
	if cmd == nil {
		return b.chat(ctx, u.UserID, text)
	}

	switch cmd.Name {
	case "help":
		return b.help(ctx, cmd)
	case "new":
		b.convs.Reset(u.UserID)
		return "🆕 Started a new conversation."
	case "context":
		return b.context(ctx, u.UserID)
	case "clear":
		b.convs.ClearContext(u.UserID)
		return "Conversation context cleared."
	case "status":
		return b.status(ctx)
	case "project":
		return b.setContext(ctx, u.UserID, projects.KindProject, cmd.Args)
	case "goal":
		return b.setContext(ctx, u.UserID, projects.KindGoal, cmd.Args)
	case "progress":
		return b.reportProgress(ctx, u.UserID, cmd.Args)
	default:
		return b.shared(ctx, *cmd)
	}
}

// stripMention turns "/cmd@botname args" into "/cmd args".
func stripMention(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	head, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(head, '@'); i > 0 {
		head = head[:i]
	}
	if rest == "" {
		return head
	}
	return head + " " + rest
}

func (b *Bot) isAuthorized(user int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.authorized[user]
	return ok
}

func (b *Bot) start(u Update) string {
	b.mu.Lock()
	_, allowed := b.allowed[u.UserID]
	if len(b.cfg.AllowedUsers) > 0 && !allowed {
		b.mu.Unlock()
		b.logger.Warn("rejected /start", slog.Int64("user_id", u.UserID))
		return msgPrivate
	}
	b.authorized[u.UserID] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("user authorized", slog.Int64("user_id", u.UserID))
	name := u.Username
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`Welcome, %s!

I'm your personal assistant with access to your notes vault.

Getting started:
- Just send me a message to start chatting
- Use /help to see all commands
- Use /search <query> to search your vault
- Use /project or /goal to set conversation context`, name)
}

func (b *Bot) help(ctx context.Context, cmd *command.Command) string {
	if target := strings.TrimPrefix(strings.TrimSpace(cmd.Args), "/"); target != "" {
		for _, d := range botCommands {
			if d.Name == strings.ToLower(target) {
				return command.RenderDefinition(d)
			}
		}
		return b.shared(ctx, *cmd)
	}
	return helpText
}

const helpText = `Available commands:

Conversation:
/new - Start a fresh conversation
/context - Show current conversation state
/clear - Clear project or goal context

Knowledge base:
/search <query> - Search your vault
/recent [n] - Recently modified notes
/today - View today's daily note

Projects and goals:
/project <name> - Link the conversation to a project
/goal <name> - Link the conversation to a goal
/progress <0-100> - Report progress

System:
/status - Show system status
/help [command] - Show this message or command details

Just send a regular message to chat.`

func (b *Bot) shared(ctx context.Context, cmd command.Command) string {
	reply, err := b.router.Execute(ctx, cmd)
	if err != nil {
		b.logger.Error("command failed", slog.String("command", cmd.Name), slog.String("error", err.Error()))
		return msgVaultDown
	}
	return reply.Text
}

func (b *Bot) chat(ctx context.Context, user int64, text string) string {
	conv := b.convs.Get(user)
	msgs := append(conv.Messages, models.UserMessage(withContext(conv, text)))

	reply, err := b.llm.Complete(ctx, msgs)
	switch {
	case errors.Is(err, apperr.ErrRateLimited):
		return msgBudget
	case err != nil:
		b.logger.Error("generate response", slog.Int64("user_id", user), slog.String("error", err.Error()))
		return msgLLMDown
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return msgLLMDown
	}

	b.convs.Append(user, models.UserMessage(text), models.AssistantMessage(reply))
	return reply
}

// withContext prefixes text with the linked project or goal.
func withContext(conv Conversation, text string) string {
	if conv.ContextKind == "" {
		return text
	}
	return fmt.Sprintf("[%s: %s]\n%s", title(conv.ContextKind), conv.ContextName, text)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (b *Bot) context(ctx context.Context, user int64) string {
	conv := b.convs.Get(user)
	minutes := int(b.now().Sub(conv.Started).Minutes())

	var sb strings.Builder
	sb.WriteString("💬 Current conversation\n\n")
	fmt.Fprintf(&sb, "ID: %s\n", conv.ID)
	fmt.Fprintf(&sb, "Messages: %d\n", len(conv.Messages))
	fmt.Fprintf(&sb, "Duration: %d minutes\n", minutes)
	if conv.ContextKind == "" {
		sb.WriteString("\nNo project/goal context set.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n%s: %s", title(conv.ContextKind), conv.ContextName)
	if b.progress != nil {
		p, ok, err := b.progress.LatestProgress(ctx, conv.ContextKind, conv.ContextName)
		if err != nil {
			b.logger.Warn("read progress", slog.String("error", err.Error()))
		} else if ok {
			fmt.Fprintf(&sb, "\nLast reported: %d%% (%s)", p.Progress, p.ReportedAt.In(b.now().Location()).Format("2006-01-02"))
		}
	}
	return sb.String()
}

func (b *Bot) setContext(ctx context.Context, user int64, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		def := lookupBotCommand(kind)
		return fmt.Sprintf("Usage: %s\n\nExample: %s", def.Usage, def.Examples[0])
	}

	var note string
	if b.projects != nil {
		it, ok, err := b.projects.Find(ctx, name)
		switch {
		case err != nil:
			b.logger.Warn("find project", slog.String("name", name), slog.String("error", err.Error()))
		case ok:
			kind, name = it.Kind, it.Name
			note = fmt.Sprintf("\nCurrently %d%% complete, %s priority.", it.Progress, it.Priority)
		default:
			note = "\nNo matching note in the vault yet."
		}
	}

	b.convs.SetContext(user, kind, name)
	return fmt.Sprintf("📁 %s context set to: %s%s\n\nMessages will be linked to this %s.", title(kind), name, note, kind)
}

func lookupBotCommand(name string) command.Definition {
	for _, d := range botCommands {
		if d.Name == name {
			return d
		}
	}
	return command.Definition{Name: name, Usage: "/" + name}
}

func (b *Bot) reportProgress(ctx context.Context, user int64, args string) string {
	conv := b.convs.Get(user)
	if conv.ContextKind == "" {
		return msgNoContext
	}
	args = strings.TrimSpace(args)
	if args == "" {
		return "Usage: " + lookupBotCommand("progress").Usage
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.Fields(args)[0], "%"))
	if err != nil || n < 0 || n > 100 {
		return msgBadProgress
	}

	if b.progress != nil {
		err := b.progress.RecordProgress(ctx, ledger.Progress{
			UserID:     user,
			Kind:       conv.ContextKind,
			Name:       conv.ContextName,
			Progress:   n,
			ReportedAt: b.now(),
		})
		if err != nil {
			b.logger.Error("record progress", slog.String("error", err.Error()))
			return "⚠️ Could not record progress. Try again later."
		}
	}
	return fmt.Sprintf("✅ Updated %s '%s' to %d%% complete.", conv.ContextKind, conv.ContextName, n)
}

func (b *Bot) status(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("🖥 System status\n\n")
	sb.WriteString("Telegram bot: Online\n")

	state := "Offline"
	if b.llm.Health(ctx) {
		state = "Online"
	}
	fmt.Fprintf(&sb, "LLM: %s (%s)\n", b.llm.Model(), state)
	if bud, ok := b.llm.(budget); ok {
		fmt.Fprintf(&sb, "LLM budget: %d/%d requests left this minute\n", bud.Remaining(), bud.Limit())
	}

	if b.vault != nil {
		files, err := b.vault.List(ctx)
		if err != nil {
			sb.WriteString("Vault: unavailable\n")
		} else {
			fmt.Fprintf(&sb, "Vault: %d notes\n", len(files))
		}
	}

	if b.reminders != nil {
		st, err := b.reminders.Status(ctx)
		if err != nil {
			sb.WriteString("Reminders: unavailable\n")
		} else {
			fmt.Fprintf(&sb, "Reminders: %d/%d sent today, active %s\n", st.SentToday, st.MaxPerDay, st.ActiveHours())
		}
	} else {
		sb.WriteString("Reminders: off\n")
	}

	fmt.Fprintf(&sb, "Conversations: %d", b.convs.Len())
	return sb.String()
}

// SplitMessage cuts text into chunks of at most limit UTF-16 code units, the
// unit Telegram measures message length in, preferring line boundaries.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for {
		fit, units := 0, 0
		for ; fit < len(runes); fit++ {
			n := utf16.RuneLen(runes[fit])
			if n < 0 {
				n = 1
			}
			if units+n > limit {
				break
			}
			units += n
		}
		if fit == len(runes) {
			break
		}
		if fit == 0 {
			fit = 1
		}
		cut := fit
		for i := fit; i > fit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(parts) == 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
