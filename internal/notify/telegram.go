package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
)

// Telegram sends admin alerts to a single chat.
type Telegram struct {
	bot    *bot.Bot
	chatID string
}

// NewTelegram connects the bot. Extra options are passed to bot.New.
func NewTelegram(token, chatID string, opts ...bot.Option) (*Telegram, error) {
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   message,
	})
	return err
}
