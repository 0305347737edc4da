package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update is an incoming text message.
type Update struct {
	UserID   int64
	ChatID   int64
	Username string
	Text     string
}

// Outgoing is a text message to deliver.
type Outgoing struct {
	ChatID int64
	Text   string
}

// Transport connects the bot to a chat network.
type Transport interface {
	// Updates streams incoming messages until ctx is done, then closes the channel.
	Updates(ctx context.Context) (<-chan Update, error)
	Send(ctx context.Context, msg Outgoing) error
}

// BotAPI is a Transport over the Telegram Bot API with long polling.
type BotAPI struct {
	api     *tgbotapi.BotAPI
	timeout int
	logger  *slog.Logger
}

var _ Transport = (*BotAPI)(nil)

// NewBotAPI authenticates with token and returns a long-polling transport.
func NewBotAPI(token string, logger *slog.Logger) (*BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Telegram bot authorized", slog.String("username", api.Self.UserName))
	return &BotAPI{api: api, timeout: 60, logger: logger}, nil
}

func (b *BotAPI) Updates(ctx context.Context) (<-chan Update, error) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.timeout
	in := b.api.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		defer b.api.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-in:
				if !ok {
					return
				}
				msg := u.Message
				if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
					continue
				}
				upd := Update{
					UserID:   msg.From.ID,
					ChatID:   msg.Chat.ID,
					Username: msg.From.UserName,
					Text:     msg.Text,
				}
				if upd.Username == "" {
					upd.Username = msg.From.FirstName
				}
				select {
				case out <- upd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *BotAPI) Send(_ context.Context, msg Outgoing) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(msg.ChatID, msg.Text)); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
