package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleReport summarizes one decision cycle for the journal.
type CycleReport struct {
	AccountID   string        `json:"account_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Outcome     string        `json:"outcome"`
	Instruments int           `json:"instruments"`
	Sells       int           `json:"sells"`
	Buys        int           `json:"buys"`
	Failed      int           `json:"failed"`
	Error       string        `json:"error,omitempty"`

	MainBalance    decimal.Decimal `json:"main_balance"`
	ProfitBalance  decimal.Decimal `json:"profit_balance"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	Total          decimal.Decimal `json:"total"`
	Positions      []Position      `json:"positions"`
}
