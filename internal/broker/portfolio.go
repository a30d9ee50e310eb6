package broker

import (
	"fmt"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
)

// Holding is a security position as reported by the broker account.
type Holding struct {
	Symbol        string
	InstrumentUID string
	Quantity      float64
	AvgPrice      float64
	CurrentPrice  float64
	PnL           float64
}

// Holdings lists non-currency positions held on the broker account.
func (tc *TinkoffClient) Holdings() ([]Holding, error) {
	positions, err := tc.portfolioPositions()
	if err != nil {
		return nil, err
	}
	return holdingsFrom(positions, tc.tickerForUID), nil
}

func (tc *TinkoffClient) portfolioPositions() ([]*pb.PortfolioPosition, error) {
	accountID := tc.AccountID()
	if tc.Config.IsSandbox() {
		r, err := tc.Client.NewSandboxServiceClient().GetSandboxPortfolio(accountID, pb.PortfolioRequest_RUB)
		if err != nil {
			return nil, fmt.Errorf("get sandbox portfolio: %w", err)
		}
		return r.GetPositions(), nil
	}
	r, err := tc.Client.NewOperationsServiceClient().GetPortfolio(accountID, pb.PortfolioRequest_RUB)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return r.GetPositions(), nil
}

// holdingsFrom drops currency and empty positions. A UID the resolver
// cannot map keeps an empty Symbol.
func holdingsFrom(positions []*pb.PortfolioPosition, resolve func(uid string) (string, error)) []Holding {
	var out []Holding
	for _, pos := range positions {
		if pos.GetInstrumentType() == "currency" {
			continue
		}
		qty := quotationFloat(pos.GetQuantity())
		if qty == 0 {
			continue
		}
		h := Holding{
			InstrumentUID: pos.GetInstrumentUid(),
			Quantity:      qty,
			AvgPrice:      moneyFloat(pos.GetAveragePositionPrice()),
			CurrentPrice:  moneyFloat(pos.GetCurrentPrice()),
			PnL:           quotationFloat(pos.GetExpectedYield()),
		}
		if symbol, err := resolve(h.InstrumentUID); err == nil {
			h.Symbol = symbol
		}
		out = append(out, h)
	}
	return out
}

func quotationFloat(q *pb.Quotation) float64 {
	if q == nil {
		return 0
	}
	return q.ToFloat()
}

func moneyFloat(m *pb.MoneyValue) float64 {
	if m == nil {
		return 0
	}
	return m.ToFloat()
}
