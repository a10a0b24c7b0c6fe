package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/notification"
)

// sender is the subset of tele.Bot used by Telegram.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends notifications to a chat, optionally inside a forum thread.
type Telegram struct {
	bot      sender
	chat     *tele.Chat
	threadID int
}

// NewTelegram creates a send-only bot for cfg.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      bot,
		chat:     &tele.Chat{ID: cfg.ChatID},
		threadID: cfg.ThreadID,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, msg notification.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, formatHTML(msg), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) Close() error { return nil }

// formatHTML renders msg as Telegram HTML.
func formatHTML(msg notification.Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(msg.Title))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(msg.Body))

	var tags []string
	if msg.Type != notification.TypeOther {
		tags = append(tags, "#"+string(msg.Type))
	}
	if msg.City != "" {
		tags = append(tags, html.EscapeString(msg.City))
	}
	if msg.Company != "" {
		tags = append(tags, html.EscapeString(msg.Company))
	}
	if len(tags) > 0 {
		b.WriteString("\n\n<i>")
		b.WriteString(strings.Join(tags, " · "))
		b.WriteString("</i>")
	}
	return b.String()
}
