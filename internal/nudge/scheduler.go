// Package nudge sends scheduled reminders to the assistant's owner.
//
// Five cron jobs run in the configured time zone:
//
//	morning    09:00 daily
//	afternoon  14:00 daily
//	evening    19:00 daily, composed from today's daily note when possible
//	weekly     18:00 Sunday, active projects and goals with progress bars
//	stalled    10:00 Wednesday, projects without recent updates
//
// Every delivery passes the same gate: active hours, a daily cap, and a
// minimum interval per kind. Deliveries are recorded in a ledger so the gate
// holds across restarts.
package nudge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/command"
	"github.com/starford/steward/internal/ledger"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/projects"
	"github.com/starford/steward/internal/vault"
)

// Reminder kinds.
const (
	KindMorning   = "morning"
	KindAfternoon = "afternoon"
	KindEvening   = "evening"
	KindWeekly    = "weekly"
	KindStalled   = "stalled"
)

var jobs = []struct {
	spec string
	kind string
}{
	{"0 9 * * *", KindMorning},
	{"0 14 * * *", KindAfternoon},
	{"0 19 * * *", KindEvening},
	{"0 18 * * 0", KindWeekly},
	{"0 10 * * 3", KindStalled},
}

const maxListed = 5

var canned = map[string][]string{
	KindMorning: {
		"🌅 Good morning! What's the ONE thing that would make today a win?",
		"🌅 Rise and shine! Ready to make progress on your goals today?",
		"🌅 New day, new opportunities. What are you focusing on today?",
	},
	KindAfternoon: {
		"☀️ Afternoon check-in: How's your day going so far?",
		"☀️ Quick check: Making progress on today's priorities?",
		"☀️ Mid-day pulse check. Need to adjust any plans?",
	},
	KindEvening: {
		"🌙 Day's wrapping up. What did you accomplish today?",
		"🌙 Evening reflection: What went well today? What could be better?",
		"🌙 Time to wind down. What are you grateful for today?",
	},
}

// Sender delivers a text message to a chat.
type Sender interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

// Notify calls f.
func (f SenderFunc) Notify(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

// Ledger persists delivered reminders.
type Ledger interface {
	RecordNudge(ctx context.Context, n ledger.Nudge) error
	CountSince(ctx context.Context, since time.Time) (int, error)
	LastSent(ctx context.Context, kind string) (time.Time, bool, error)
}

// ProjectSource lists tracked projects and goals.
type ProjectSource interface {
	Active(ctx context.Context) ([]projects.Item, error)
	Stalled(ctx context.Context, now time.Time, after time.Duration) ([]projects.Item, error)
}

// Config controls delivery.
type Config struct {
	ChatID       int64
	StartHour    int // inclusive
	EndHour      int // exclusive
	MaxPerDay    int
	MinInterval  time.Duration
	StalledAfter time.Duration
	Location     *time.Location
	DailyFolder  string
}

// Status is a snapshot for status displays.
type Status struct {
	Running           bool
	SentToday         int
	MaxPerDay         int
	StartHour         int
	EndHour           int
	WithinActiveHours bool
}

// ActiveHours formats the delivery window, e.g. "8:00-22:00".
func (s Status) ActiveHours() string {
	return fmt.Sprintf("%d:00-%d:00", s.StartHour, s.EndHour)
}

// Scheduler owns the cron jobs and the delivery gate.
type Scheduler struct {
	cfg      Config
	sender   Sender
	ledger   Ledger
	projects ProjectSource
	vault    vault.Provider
	llm      llm.Client
	logger   *slog.Logger
	now      func() time.Time
	pick     func(n int) int

	// mu serializes gate checks with the deliveries they admit.
	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProjects enables the weekly review and stalled check.
func WithProjects(p ProjectSource) Option {
	return func(s *Scheduler) { s.projects = p }
}

// WithReflection lets the evening reminder be written by c from today's daily note.
func WithReflection(v vault.Provider, c llm.Client) Option {
	return func(s *Scheduler) {
		s.vault = v
		s.llm = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPicker overrides the random choice among canned messages.
func WithPicker(pick func(n int) int) Option {
	return func(s *Scheduler) { s.pick = pick }
}

// New creates a Scheduler. Call Start to register the cron jobs.
func New(cfg Config, sender Sender, l Ledger, opts ...Option) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Scheduler{
		cfg:    cfg,
		sender: sender,
		ledger: l,
		logger: slog.Default(),
		now:    time.Now,
		pick:   rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	clog := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	for _, j := range jobs {
		kind := j.kind
		if _, err := c.AddFunc(j.spec, func() {
			if _, err := s.Run(context.Background(), kind); err != nil {
				s.logger.Error("nudge failed", slog.String("kind", kind), slog.String("error", err.Error()))
			}
		}); err != nil {
			return fmt.Errorf("nudge: schedule %s: %w", kind, err)
		}
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("Nudge scheduler started",
		slog.Int("jobs", len(jobs)),
		slog.String("active_hours", fmt.Sprintf("%d:00-%d:00", s.cfg.StartHour, s.cfg.EndHour)),
		slog.String("timezone", s.cfg.Location.String()))
	return nil
}

// Stop halts the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Nudge scheduler stopped")
}

// Run composes the reminder of kind and delivers it if the gate allows.
// It reports whether a message was sent.
func (s *Scheduler) Run(ctx context.Context, kind string) (bool, error) {
	s.mu.Lock()
	blocked, err := s.gate(ctx, kind, s.now())
	s.mu.Unlock()
	if err != nil || blocked {
		return false, err
	}

	text, err := s.compose(ctx, kind)
	if err != nil {
		return false, err
	}
	if text == "" {
		s.logger.Debug("nothing to nudge about", slog.String("kind", kind))
		return false, nil
	}
	return s.Send(ctx, kind, text)
}

// Send delivers text as a reminder of kind if the gate allows.
func (s *Scheduler) Send(ctx context.Context, kind, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if blocked, err := s.gate(ctx, kind, now); err != nil || blocked {
		return false, err
	}

	if err := s.sender.Notify(ctx, s.cfg.ChatID, text); err != nil {
		return false, fmt.Errorf("nudge: deliver %s: %w", kind, err)
	}
	if err := s.ledger.RecordNudge(ctx, ledger.Nudge{Kind: kind, SentAt: now, Message: text}); err != nil {
		return true, err
	}
	s.logger.Info("Sent nudge", slog.String("kind", kind))
	return true, nil
}

// gate reports whether a reminder of kind is held back at now. Callers hold s.mu.
func (s *Scheduler) gate(ctx context.Context, kind string, now time.Time) (bool, error) {
	reason, err := s.blocked(ctx, kind, now)
	if err != nil {
		return false, err
	}
	if reason != "" {
		s.logger.Debug("nudge skipped", slog.String("kind", kind), slog.String("reason", reason))
		return true, nil
	}
	return false, nil
}

// blocked returns why a reminder of kind may not be sent at now, or "".
func (s *Scheduler) blocked(ctx context.Context, kind string, now time.Time) (string, error) {
	if !s.withinActiveHours(now) {
		return "outside active hours", nil
	}
	sent, err := s.ledger.CountSince(ctx, s.startOfDay(now))
	if err != nil {
		return "", err
	}
	if sent >= s.cfg.MaxPerDay {
		return "daily limit reached", nil
	}
	last, ok, err := s.ledger.LastSent(ctx, kind)
	if err != nil {
		return "", err
	}
	if ok && now.Sub(last) < s.cfg.MinInterval {
		return "sent too recently", nil
	}
	return "", nil
}

func (s *Scheduler) withinActiveHours(now time.Time) bool {
	h := now.In(s.cfg.Location).Hour()
	return h >= s.cfg.StartHour && h < s.cfg.EndHour
}

func (s *Scheduler) startOfDay(now time.Time) time.Time {
	y, m, d := now.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

// Status reports delivery counters.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	now := s.now()
	sent, err := s.ledger.CountSince(ctx, s.startOfDay(now))
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	running := s.cron != nil
	s.mu.Unlock()
	return Status{
		Running:           running,
		SentToday:         sent,
		MaxPerDay:         s.cfg.MaxPerDay,
		StartHour:         s.cfg.StartHour,
		EndHour:           s.cfg.EndHour,
		WithinActiveHours: s.withinActiveHours(now),
	}, nil
}

func (s *Scheduler) compose(ctx context.Context, kind string) (string, error) {
	switch kind {
	case KindMorning, KindAfternoon:
		return s.choose(kind), nil
	case KindEvening:
		return s.evening(ctx), nil
	case KindWeekly:
		return s.weekly(ctx)
	case KindStalled:
		return s.stalled(ctx)
	default:
		return "", fmt.Errorf("nudge: unknown kind %q", kind)
	}
}

func (s *Scheduler) choose(kind string) string {
	msgs := canned[kind]
	return msgs[s.pick(len(msgs))]
}

const reflectionPrompt = "Here is my daily note for today:\n\n%s\n\n" +
	"Write a short evening check-in (two or three sentences) that acknowledges " +
	"what I worked on and asks one question about tomorrow. Plain text, no headings."

func (s *Scheduler) evening(ctx context.Context) string {
	if s.vault == nil || s.llm == nil {
		return s.choose(KindEvening)
	}
	p := command.DailyNotePath(s.cfg.DailyFolder, s.now().In(s.cfg.Location))
	note, err := s.vault.Read(ctx, p)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("read daily note", slog.String("path", p), slog.String("error", err.Error()))
		}
		return s.choose(KindEvening)
	}
	if strings.TrimSpace(note) == "" {
		return s.choose(KindEvening)
	}

	msg := models.UserMessage(fmt.Sprintf(reflectionPrompt, command.Truncate(note, 3000)))
	reply, err := s.llm.Complete(ctx, []models.Message{msg})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			s.logger.Warn("evening reflection fell back to canned text", slog.String("error", err.Error()))
		}
		return s.choose(KindEvening)
	}
	return "🌙 " + strings.TrimSpace(reply)
}

func (s *Scheduler) weekly(ctx context.Context) (string, error) {
	if s.projects == nil {
		return "", nil
	}
	items, err := s.projects.Active(ctx)
	if err != nil {
		return "", err
	}
	return RenderWeekly(items), nil
}

// RenderWeekly formats the Sunday review.
func RenderWeekly(items []projects.Item) string {
	if len(items) == 0 {
		return "📅 Weekly Review\n\nNo active projects. Time to set some goals?"
	}

	var goals, projs []projects.Item
	for _, it := range items {
		if it.Kind == projects.KindGoal {
			goals = append(goals, it)
		} else {
			projs = append(projs, it)
		}
	}

	var b strings.Builder
	b.WriteString("📅 Weekly Review\n\n")
	section := func(title string, list []projects.Item) {
		if len(list) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, it := range list[:min(len(list), maxListed)] {
			fmt.Fprintf(&b, "• %s: %s %d%%\n", it.Name, projects.ProgressBar(it.Progress, 10), it.Progress)
		}
		b.WriteString("\n")
	}
	section("Goals", goals)
	section("Projects", projs)
	b.WriteString("How did this week go? What's the focus for next week?")
	return b.String()
}

func (s *Scheduler) stalled(ctx context.Context) (string, error) {
	if s.projects == nil {
		return "", nil
	}
	items, err := s.projects.Stalled(ctx, s.now(), s.cfg.StalledAfter)
	if err != nil {
		return "", err
	}
	return RenderStalled(items, s.cfg.StalledAfter), nil
}

// RenderStalled formats the stalled-projects alert, or "" when none are stalled.
func RenderStalled(items []projects.Item, after time.Duration) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("⚠️ Stalled Projects Alert\n\n")
	fmt.Fprintf(&b, "These haven't been updated in %d+ days:\n\n", int(after.Hours()/24))
	for _, it := range items[:min(len(items), maxListed)] {
		fmt.Fprintf(&b, "• %s (%d%%)\n", it.Name, it.Progress)
	}
	b.WriteString("\nNeed to reprioritize or make some progress?")
	return b.String()
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
