// Package projects reads project and goal notes from the vault.
//
// A project is any markdown file directly inside the projects folder. Files
// named "Goal-*.md" are goals. Progress, priority and last_updated come from
// the note's frontmatter.
package projects

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/starford/steward/internal/parser"
	"github.com/starford/steward/internal/vault"
)

// Kinds of tracked items.
const (
	KindProject = "project"
	KindGoal    = "goal"
)

const goalPrefix = "Goal-"

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Item is one project or goal note.
type Item struct {
	Name        string
	Kind        string
	Progress    int
	Priority    string
	Path        string
	LastUpdated time.Time // zero when missing or unparseable
}

// Active reports whether the item is still in progress.
func (i Item) Active() bool { return i.Progress < 100 }

// Scanner lists project notes through a vault provider.
type Scanner struct {
	vault  vault.Provider
	folder string
	loc    *time.Location
	logger *slog.Logger
}

// NewScanner creates a Scanner over folder (vault-relative, e.g. "Projects").
func NewScanner(v vault.Provider, folder string, loc *time.Location, logger *slog.Logger) *Scanner {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{vault: v, folder: strings.Trim(folder, "/"), loc: loc, logger: logger}
}

// All returns every project and goal, sorted by priority then progress.
// Unreadable notes are logged and skipped.
func (s *Scanner) All(ctx context.Context) ([]Item, error) {
	files, err := s.vault.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}

	var items []Item
	for _, f := range files {
		if f.Folder != s.folder || strings.HasPrefix(f.Name, ".") {
			continue
		}
		content, err := s.vault.Read(ctx, f.Path)
		if err != nil {
			s.logger.Warn("skipping project note", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		items = append(items, s.item(f.Path, f.Name, content))
	}

	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := rank(items[i].Priority), rank(items[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return items[i].Progress < items[j].Progress
	})
	return items, nil
}

// Active returns items with progress below 100.
func (s *Scanner) Active(ctx context.Context) ([]Item, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range all {
		if it.Active() {
			out = append(out, it)
		}
	}
	return out, nil
}

// Stalled returns active items not updated since now-after. Items without a
// usable last_updated value count as stalled.
func (s *Scanner) Stalled(ctx context.Context, now time.Time, after time.Duration) ([]Item, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-after)
	var out []Item
	for _, it := range active {
		if it.LastUpdated.IsZero() || it.LastUpdated.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Find returns the item whose title or file name matches name, ignoring case.
func (s *Scanner) Find(ctx context.Context, name string) (Item, bool, error) {
	all, err := s.All(ctx)
	if err != nil {
		return Item{}, false, err
	}
	slug := Slug(name)
	for _, it := range all {
		stem := strings.TrimPrefix(strings.TrimSuffix(path.Base(it.Path), ".md"), goalPrefix)
		if strings.EqualFold(it.Name, name) || strings.EqualFold(stem, slug) {
			return it, true, nil
		}
	}
	return Item{}, false, nil
}

func (s *Scanner) item(rel, name, content string) Item {
	res := parser.Parse([]byte(content))
	fm := res.Frontmatter

	it := Item{
		Name:     strings.TrimSuffix(name, ".md"),
		Kind:     KindProject,
		Priority: strings.ToLower(parser.String(fm, "priority")),
		Path:     rel,
	}
	if strings.HasPrefix(name, goalPrefix) {
		it.Kind = KindGoal
	}
	if title := parser.String(fm, "title"); title != "" {
		it.Name = title
	}
	if it.Priority == "" {
		it.Priority = "medium"
	}
	if p, ok := parser.Int(fm, "progress"); ok {
		it.Progress = min(max(p, 0), 100)
	}
	if t, ok := parser.Time(fm, "last_updated", s.loc); ok {
		it.LastUpdated = t
	}
	return it
}

func rank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return priorityRank["medium"]
}

var (
	slugStrip = regexp.MustCompile(`[^\w\s-]`)
	slugSpace = regexp.MustCompile(`\s+`)
)

// Slug converts a display name into the file stem used for project notes.
func Slug(name string) string {
	s := slugStrip.ReplaceAllString(name, "")
	s = slugSpace.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-")
}

// ProgressBar renders progress (0-100) as a bar of width cells.
func ProgressBar(progress, width int) string {
	progress = min(max(progress, 0), 100)
	filled := progress * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
