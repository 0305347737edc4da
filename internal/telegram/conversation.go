package telegram

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/steward/internal/models"
)

// Conversation is one user's in-memory chat state.
type Conversation struct {
	ID          string
	Messages    []models.Message
	Started     time.Time
	LastActive  time.Time
	ContextKind string // "project", "goal" or ""
	ContextName string
}

// Conversations holds per-user state. Methods return copies.
type Conversations struct {
	mu         sync.Mutex
	byUser     map[int64]*Conversation
	maxHistory int
	now        func() time.Time
}

// NewConversations keeps at most maxHistory messages per user.
func NewConversations(maxHistory int, now func() time.Time) *Conversations {
	if now == nil {
		now = time.Now
	}
	return &Conversations{
		byUser:     make(map[int64]*Conversation),
		maxHistory: maxHistory,
		now:        now,
	}
}

func (c *Conversations) fresh() *Conversation {
	t := c.now()
	return &Conversation{ID: uuid.NewString(), Started: t, LastActive: t}
}

func (c *Conversations) getLocked(user int64) *Conversation {
	conv, ok := c.byUser[user]
	if !ok {
		conv = c.fresh()
		c.byUser[user] = conv
	}
	return conv
}

func snapshot(conv *Conversation) Conversation {
	out := *conv
	out.Messages = append([]models.Message(nil), conv.Messages...)
	return out
}

// Get returns user's conversation, starting one if needed.
func (c *Conversations) Get(user int64) Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.getLocked(user))
}

// Append adds msgs to user's history, dropping the oldest messages beyond
// the limit. History never starts with an assistant message.
func (c *Conversations) Append(user int64, msgs ...models.Message) Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.getLocked(user)
	conv.Messages = append(conv.Messages, msgs...)
	if c.maxHistory > 0 && len(conv.Messages) > c.maxHistory {
		conv.Messages = conv.Messages[len(conv.Messages)-c.maxHistory:]
	}
	for len(conv.Messages) > 0 && conv.Messages[0].Role != models.RoleUser {
		conv.Messages = conv.Messages[1:]
	}
	conv.LastActive = c.now()
	return snapshot(conv)
}

// Reset replaces user's conversation with a fresh one.
func (c *Conversations) Reset(user int64) Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.fresh()
	c.byUser[user] = conv
	return snapshot(conv)
}

// SetContext links the conversation to a project or goal.
func (c *Conversations) SetContext(user int64, kind, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.getLocked(user)
	conv.ContextKind = kind
	conv.ContextName = name
	conv.LastActive = c.now()
}

// ClearContext removes any project or goal link.
func (c *Conversations) ClearContext(user int64) {
	c.SetContext(user, "", "")
}

// Len returns the number of tracked conversations.
func (c *Conversations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byUser)
}
