package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decimal columns are stored as text so sqlite keeps the exact value.

type AccountRecord struct {
	ID            string          `gorm:"primaryKey"`
	MainBalance   decimal.Decimal `gorm:"type:text;not null"`
	ProfitBalance decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (AccountRecord) TableName() string { return "accounts" }

type PositionRecord struct {
	AccountID     string          `gorm:"primaryKey"`
	Symbol        string          `gorm:"primaryKey"`
	Amount        decimal.Decimal `gorm:"type:text;not null"`
	AveragePrice  decimal.Decimal `gorm:"type:text;not null"`
	TotalInvested decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt     time.Time
}

func (PositionRecord) TableName() string { return "positions" }

type TradeRecord struct {
	Seq         uint            `gorm:"primaryKey"`
	TradeID     string          `gorm:"uniqueIndex;not null"`
	AccountID   string          `gorm:"index:idx_trades_account_time;not null"`
	Symbol      string          `gorm:"index;not null"`
	Type        string          `gorm:"not null"` // BUY or SELL
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	Price       decimal.Decimal `gorm:"type:text;not null"`
	Total       decimal.Decimal `gorm:"type:text;not null"`
	PnL         decimal.Decimal `gorm:"column:pnl;type:text;not null"`
	Reason      string          `gorm:"type:text"`
	IsAutomated bool
	OrderID     string
	Timestamp   time.Time `gorm:"index:idx_trades_account_time;not null"`
}

func (TradeRecord) TableName() string { return "trades" }

type SettingsRecord struct {
	AccountID    string `gorm:"primaryKey"`
	IsActive     bool   `gorm:"not null"`
	StrategyID   string `gorm:"not null"`
	RiskLevel    float64
	TargetProfit float64
	MaxDailyLoss float64
	UpdatedAt    time.Time
}

func (SettingsRecord) TableName() string { return "strategy_settings" }

type CycleLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AccountID   string `gorm:"index;not null" json:"account_id"`
	Outcome     string `json:"outcome"`
	DurationMs  int64  `json:"duration_ms"`
	Instruments int    `json:"instruments"`
	Sells       int    `json:"sells"`
	Buys        int    `json:"buys"`
	Failed      int    `json:"failed"`
	Error       string `json:"error"`
}

type PortfolioSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AccountID      string          `gorm:"index;not null" json:"account_id"`
	MainBalance    decimal.Decimal `gorm:"type:text" json:"main_balance"`
	ProfitBalance  decimal.Decimal `gorm:"type:text" json:"profit_balance"`
	PositionsValue decimal.Decimal `gorm:"type:text" json:"positions_value"`
	Total          decimal.Decimal `gorm:"type:text" json:"total"`
	PositionsCount int             `json:"positions_count"`
	PositionsJSON  string          `gorm:"type:text" json:"positions_json"`
}
