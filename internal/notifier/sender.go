package notifier

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"contentpilot/internal/publish"
)

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// TelegramSender sends plain-text alerts through the bot used for publishing.
type TelegramSender struct {
	API publish.TelegramAPI
}

func (s TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.API.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
