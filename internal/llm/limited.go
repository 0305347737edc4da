package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
)

// Limited enforces a per-minute request budget on a Client. Health checks do
// not consume budget.
type Limited struct {
	Client
	limiter   *rate.Limiter
	perMinute int
}

// NewLimited wraps c with a budget of perMinute requests, refilled evenly.
func NewLimited(c Client, perMinute int) *Limited {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Limited{
		Client:    c,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		perMinute: perMinute,
	}
}

func (l *Limited) allow() error {
	if !l.limiter.Allow() {
		return fmt.Errorf("%w: %d requests per minute", apperr.ErrRateLimited, l.perMinute)
	}
	return nil
}

func (l *Limited) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	if err := l.allow(); err != nil {
		return "", err
	}
	return l.Client.Complete(ctx, msgs)
}

func (l *Limited) Stream(ctx context.Context, msgs []models.Message) (*Stream, error) {
	if err := l.allow(); err != nil {
		return nil, err
	}
	return l.Client.Stream(ctx, msgs)
}

// Remaining returns the whole requests currently available.
func (l *Limited) Remaining() int {
	n := int(l.limiter.Tokens())
	if n < 0 {
		return 0
	}
	return n
}

// Limit returns the configured per-minute budget.
func (l *Limited) Limit() int { return l.perMinute }
