package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/logger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNotifySends(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, 42, 60, logger.Discard())

	require.NoError(t, n.Notify(context.Background(), "hello"))
	require.Len(t, fs.sent, 1)
	assert.Equal(t, int64(42), fs.sent[0].ChatID)
	assert.Equal(t, "hello", fs.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, fs.sent[0].ParseMode)
}

func TestNotifyWrapsFailures(t *testing.T) {
	n := newNotifier(&fakeSender{err: errors.New("chat not found")}, 42, 60, logger.Discard())

	err := n.Notify(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotificationFailed)
	assert.Contains(t, err.Error(), "chat not found")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := newNotifier(&fakeSender{}, 42, 60, logger.Discard())
	assert.ErrorIs(t, ok.Notify(ctx, "late"), ErrNotificationFailed)
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{Enabled: false}, logger.Discard())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "dropped"))
}

func TestFormatTrade(t *testing.T) {
	buy := domain.Trade{
		AccountID: "acc", Symbol: "SBER", Type: domain.Buy,
		Amount: decimal.NewFromInt(2), Price: decimal.NewFromInt(10), Total: decimal.NewFromInt(20),
		Reason: "BUY conf 0.60",
	}
	msg := FormatTrade(buy)
	assert.Contains(t, msg, "*BUY* SBER")
	assert.Contains(t, msg, "10.00")
	assert.Contains(t, msg, "20.00")

	win := domain.Trade{Symbol: "SBER", Type: domain.Sell, Amount: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(15), PnL: decimal.NewFromInt(5)}
	assert.Contains(t, FormatTrade(win), "💰")

	loss := win
	loss.PnL = decimal.NewFromInt(-1)
	assert.Contains(t, FormatTrade(loss), "🔴")
	assert.Contains(t, FormatTrade(loss), "-1.00")
}

func TestFormatEscapesMarkdown(t *testing.T) {
	buy := domain.Trade{
		AccountID: "acc_1", Symbol: "SBER", Type: domain.Buy,
		Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(10), Total: decimal.NewFromInt(10),
		Reason: "STRONG_BUY conf 0.80 score 8.5",
	}
	msg := FormatTrade(buy)
	assert.Contains(t, msg, `STRONG\_BUY conf 0.80`)
	assert.Contains(t, msg, `\[acc\_1]`)
	assert.Contains(t, msg, "*BUY*", "the message's own markup stays intact")

	assert.Equal(t, "ℹ️ *acc\\_1*\nstopped: target\\_reached", FormatStatus("acc_1", "stopped: target_reached"))
	assert.Contains(t, FormatError("cycle acc_1", errors.New("bad *input* [x]")), `bad \*input\* \[x]`)
}
