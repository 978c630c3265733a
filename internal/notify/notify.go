// Package notify delivers short text messages to users of the chat platform.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, int64, string) error { return nil }

// Telegram sends Markdown messages through the Bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram connects to the public Bot API and verifies the token.
func NewTelegram(token string) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
}

// NewTelegramWithEndpoint talks to a Bot API compatible server at endpoint,
// a format string taking the token and the method name.
func NewTelegramWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Username is the bot account name reported by the API.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// New returns a Telegram notifier, or Nop when token is empty.
func New(token string, logger *slog.Logger) (Notifier, error) {
	if token == "" {
		logger.Info("telegram notifications disabled")
		return Nop{}, nil
	}
	tg, err := NewTelegram(token)
	if err != nil {
		return nil, err
	}
	logger.Info("telegram notifications enabled", "bot", tg.Username())
	return tg, nil
}
