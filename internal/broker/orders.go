package broker

import (
	"context"
	"fmt"
	"math"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/autopilot/internal/domain"
)

// SubmitOrder places a market order for qty units rounded down to whole lots.
// A quantity below one lot is declined without contacting the exchange.
func (tc *TinkoffClient) SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}

	uid, err := tc.ResolveTickerToUID(symbol)
	if err != nil {
		return OrderResult{}, err
	}
	lot, err := tc.LotSize(uid)
	if err != nil {
		return OrderResult{}, err
	}

	lots := lotsFor(qty, lot)
	if lots < 1 {
		return declined(fmt.Sprintf("quantity %.6f is below one lot of %d", qty, lot)), nil
	}

	direction := pb.OrderDirection_ORDER_DIRECTION_BUY
	if side == domain.Sell {
		direction = pb.OrderDirection_ORDER_DIRECTION_SELL
	}

	resp, err := tc.postOrder(uid, lots, direction)
	if err != nil {
		return OrderResult{}, fmt.Errorf("%s order: %w", side, err)
	}

	executed := resp.GetLotsExecuted()
	if executed <= 0 {
		return OrderResult{
			OrderID: resp.GetOrderId(),
			Message: resp.GetExecutionReportStatus().String(),
		}, nil
	}

	result := OrderResult{
		Success:   true,
		OrderID:   resp.GetOrderId(),
		FilledQty: float64(executed * lot),
	}
	if ep := resp.GetExecutedOrderPrice(); ep != nil {
		result.FilledPrice = ep.ToFloat()
	}
	return result, nil
}

func (tc *TinkoffClient) postOrder(uid string, lots int64, direction pb.OrderDirection) (*investgo.PostOrderResponse, error) {
	orderID := investgo.CreateUid()

	if tc.Config.IsSandbox() {
		sandbox := tc.Client.NewSandboxServiceClient()
		return sandbox.PostSandboxOrder(&investgo.PostOrderRequest{
			InstrumentId: uid,
			Quantity:     lots,
			Direction:    direction,
			AccountId:    tc.AccountID(),
			OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
			OrderId:      orderID,
		})
	}

	req := &investgo.PostOrderRequestShort{
		InstrumentId: uid,
		Quantity:     lots,
		AccountId:    tc.AccountID(),
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      orderID,
	}
	orders := tc.Client.NewOrdersServiceClient()
	if direction == pb.OrderDirection_ORDER_DIRECTION_SELL {
		return orders.Sell(req)
	}
	return orders.Buy(req)
}

// lotsFor converts a unit quantity to whole lots, rounding down.
func lotsFor(qty float64, lot int64) int64 {
	if qty <= 0 || lot <= 0 {
		return 0
	}
	return int64(math.Floor(qty/float64(lot) + 1e-9))
}
