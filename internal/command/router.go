package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/vault"
)

const (
	maxDisplayedHits   = 10
	maxDailyNoteLength = 3000
	defaultRecentLimit = 10
	defaultDailyFolder = "Daily-Notes"
)

// Reply is the conversational outcome of a command. Err is one of
// apperr.ErrInvalidCommandArgs or apperr.ErrUnknownCommand when the command
// could not be carried out; Text always explains the outcome to the user.
type Reply struct {
	Text string
	Err  error
}

// Router executes parsed commands against a vault.
type Router struct {
	vault       vault.Provider
	dailyFolder string
	recentLimit int
	now         func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithDailyFolder sets the vault folder holding YYYY-MM-DD.md daily notes.
func WithDailyFolder(folder string) Option {
	return func(r *Router) {
		if folder != "" {
			r.dailyFolder = strings.Trim(folder, "/")
		}
	}
}

// WithRecentLimit sets the default count for /recent.
func WithRecentLimit(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.recentLimit = n
		}
	}
}

// WithClock overrides the time source used by /today.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router reading from v.
func NewRouter(v vault.Provider, opts ...Option) *Router {
	r := &Router{
		vault:       v,
		dailyFolder: defaultDailyFolder,
		recentLimit: defaultRecentLimit,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Definitions returns the supported commands.
func (r *Router) Definitions() []Definition {
	return Definitions()
}

// Execute runs cmd. Every command yields a Reply; the returned error is
// reserved for vault failures the caller must surface as exceptional.
func (r *Router) Execute(ctx context.Context, cmd Command) (Reply, error) {
	switch KindOf(cmd.Name) {
	case KindHelp:
		return r.help(cmd.Args), nil
	case KindSearch:
		return r.search(ctx, cmd.Args)
	case KindRecent:
		return r.recent(ctx, cmd.Args)
	case KindToday:
		return r.today(ctx)
	case KindUnknown:
		return Reply{
			Text: fmt.Sprintf("✗ Unknown command: /%s. Try /help to see available commands.", cmd.Name),
			Err:  apperr.ErrUnknownCommand,
		}, nil
	default:
		panic(fmt.Sprintf("command: unhandled kind for %q", cmd.Name))
	}
}

func (r *Router) help(args string) Reply {
	target := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args), "/"))
	if target == "" {
		return Reply{Text: RenderHelp(Definitions())}
	}
	def, ok := lookup(target)
	if !ok {
		return Reply{
			Text: fmt.Sprintf("✗ Command not found: /%s. Type /help to list commands.", target),
			Err:  apperr.ErrInvalidCommandArgs,
		}
	}
	return Reply{Text: RenderDefinition(def)}
}

// RenderDefinition formats the detail view of one command.
func RenderDefinition(def Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 Help: /%s\n\n", def.Name)
	fmt.Fprintf(&b, "Description: %s\n", def.Description)
	fmt.Fprintf(&b, "Usage: %s\n", def.Usage)
	if len(def.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range def.Examples {
			fmt.Fprintf(&b, "  %s\n", ex)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderHelp formats a listing of defs.
func RenderHelp(defs []Definition) string {
	var b strings.Builder
	b.WriteString("📚 Available Commands\n\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "/%s\n  %s\n  Usage: %s\n\n", d.Name, d.Description, d.Usage)
	}
	b.WriteString("Type /help <command> for more details")
	return b.String()
}

func (r *Router) search(ctx context.Context, query string) (Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{
			Text: "✗ Missing search query. Usage: /search <query>",
			Err:  apperr.ErrInvalidCommandArgs,
		}, nil
	}
	hits, err := r.vault.Search(ctx, query)
	if err != nil {
		return Reply{}, fmt.Errorf("search %q: %w", query, err)
	}
	return Reply{Text: RenderSearch(query, hits, maxDisplayedHits)}, nil
}

// RenderSearch formats hits, showing at most limit of them.
func RenderSearch(query string, hits []models.SearchHit, limit int) string {
	if len(hits) == 0 {
		return fmt.Sprintf("🔍 No results found for %q (0 matches)", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Search Results for %q\n\n", query)
	files := make(map[string]struct{})
	for i, h := range hits {
		files[h.Path] = struct{}{}
		if i >= limit {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n   Line %d: %s\n\n", i+1, h.Path, h.Line, h.Excerpt)
	}
	if len(hits) > limit {
		fmt.Fprintf(&b, "... and %d more results\n\n", len(hits)-limit)
	}
	fmt.Fprintf(&b, "%d results in %d files", len(hits), len(files))
	return b.String()
}

func (r *Router) recent(ctx context.Context, args string) (Reply, error) {
	limit := r.recentLimit
	if args = strings.TrimSpace(args); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return Reply{
				Text: fmt.Sprintf("✗ Invalid count %q. Usage: /recent [count]", args),
				Err:  apperr.ErrInvalidCommandArgs,
			}, nil
		}
		limit = n
	}
	files, err := r.vault.Recent(ctx, limit)
	if err != nil {
		return Reply{}, fmt.Errorf("recent: %w", err)
	}
	if len(files) == 0 {
		return Reply{Text: "🕒 No notes in the vault yet."}, nil
	}
	var b strings.Builder
	b.WriteString("🕒 Recently modified notes\n\n")
	for i, f := range files {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, f.Path, f.ModTime.Format("2006-01-02 15:04"))
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
}

// DailyNotePath returns the vault-relative path of the daily note for t.
func DailyNotePath(folder string, t time.Time) string {
	name := t.Format("2006-01-02") + ".md"
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func (r *Router) today(ctx context.Context) (Reply, error) {
	now := r.now()
	date := now.Format("2006-01-02")
	p := DailyNotePath(r.dailyFolder, now)
	content, err := r.vault.Read(ctx, p)
	if errors.Is(err, apperr.ErrNotFound) {
		return Reply{Text: fmt.Sprintf("📅 No daily note for %s yet.\nCreate one at: %s", date, p)}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("today: %w", err)
	}
	return Reply{Text: fmt.Sprintf("📅 Daily Note - %s\n\n%s", date, Truncate(content, maxDailyNoteLength))}, nil
}

// Truncate caps s at n runes, marking the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "\n\n...(truncated)"
}
