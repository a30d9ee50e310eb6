package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/logger"
)

var ErrNotificationFailed = errors.New("notification failed")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to one chat. A disabled notifier accepts and drops everything.
type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewNotifier(cfg config.TelegramConfig, log *logger.Logger) *Notifier {
	if !cfg.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)
	return newNotifier(bot, cfg.ChatID, cfg.MessagesPerMinute, log)
}

func newNotifier(bot sender, chatID int64, perMinute int, log *logger.Logger) *Notifier {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		enabled: true,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), min(perMinute, 5)),
		logger:  log,
	}
}

func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Notify waits for a send slot and delivers text as Markdown.
// Every failure wraps ErrNotificationFailed.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.enabled {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return nil
}
