package notifier

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telegramSender is an offline bot: it never polls for updates and never
// calls getMe, it only sends.
type telegramSender struct {
	bot *tele.Bot
}

func newTelegramSender(token string) (*telegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b}, nil
}

func (s *telegramSender) SendText(ctx context.Context, to Target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{
		ThreadID:              to.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}

func (s *telegramSender) SendPhoto(ctx context.Context, to Target, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	_, err := s.bot.Send(&tele.Chat{ID: to.ChatID}, photo, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}
