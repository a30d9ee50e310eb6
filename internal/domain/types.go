package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Instrument is an immutable market snapshot for one symbol.
type Instrument struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_24h"` // percent
	Volume24h      float64 `json:"volume_24h,omitempty"`
}

// PreviousClose estimates the price 24 hours ago from the percent change.
func (i Instrument) PreviousClose() float64 {
	if i.PriceChange24h <= -100 {
		return i.CurrentPrice
	}
	return i.CurrentPrice / (1 + i.PriceChange24h/100)
}

type Account struct {
	ID            string          `json:"id"`
	MainBalance   decimal.Decimal `json:"main_balance"`
	ProfitBalance decimal.Decimal `json:"profit_balance"`
}

type Position struct {
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Position) MarketValue(price float64) decimal.Decimal {
	return p.Amount.Mul(decimal.NewFromFloat(price))
}

type Trade struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Type        Side            `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	PnL         decimal.Decimal `json:"pnl"` // SELL only
	Reason      string          `json:"reason"`
	IsAutomated bool            `json:"is_automated"`
	OrderID     string          `json:"order_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StrategySettings are owned by the settings store; the engine only reads them.
type StrategySettings struct {
	AccountID    string  `json:"account_id"`
	IsActive     bool    `json:"is_active"`
	StrategyID   string  `json:"strategy_id"`
	RiskLevel    float64 `json:"risk_level"`
	TargetProfit float64 `json:"target_profit"`
	MaxDailyLoss float64 `json:"max_daily_loss"`
}
