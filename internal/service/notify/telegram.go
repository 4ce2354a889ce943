package notify

import (
	"context"
	"fmt"

	"SignalDesk/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications to a Telegram chat through the bot
// API. The title is rendered bold in Markdown.
type TelegramSender struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramSender authenticates the bot token against the Telegram API and
// returns a sender bound to chatID.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbot.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", title, body))
	msg.ParseMode = tgbot.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

// LogSender writes notifications to the service log. It is the fallback
// channel when no Telegram token is configured, so queued notifications are
// still drained and visible.
type LogSender struct {
	logger *logger.Logger
}

func NewLogSender(lgr *logger.Logger) *LogSender {
	return &LogSender{logger: lgr}
}

func (l *LogSender) Send(_ context.Context, title, body string) error {
	l.logger.Info("notification",
		logger.String("title", title),
		logger.String("body", body))
	return nil
}

func (l *LogSender) Name() string { return "log" }
