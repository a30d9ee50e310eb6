package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/autopilot/internal/domain"
)

// esc escapes text interpolated into a Markdown message.
func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func FormatTrade(t domain.Trade) string {
	if t.Type == domain.Buy {
		return fmt.Sprintf("🟢 *BUY* %s \\[%s]\nЦена: %s ₽\nКол-во: %s\nСумма: %s ₽\n%s",
			esc(t.Symbol), esc(t.AccountID), t.Price.StringFixed(2), t.Amount.String(), t.Total.StringFixed(2), esc(t.Reason))
	}
	emoji := "🔴"
	if t.PnL.IsPositive() {
		emoji = "💰"
	}
	return fmt.Sprintf("%s *SELL* %s \\[%s]\nЦена: %s ₽\nКол-во: %s\nP&L: %s ₽\n%s",
		emoji, esc(t.Symbol), esc(t.AccountID), t.Price.StringFixed(2), t.Amount.String(), t.PnL.StringFixed(2), esc(t.Reason))
}

func FormatStatus(accountID, message string) string {
	return fmt.Sprintf("ℹ️ *%s*\n%s", esc(accountID), esc(message))
}

func FormatError(context string, err error) string {
	return fmt.Sprintf("⚠️ *Ошибка* \\[%s]\n%s", esc(context), esc(err.Error()))
}
