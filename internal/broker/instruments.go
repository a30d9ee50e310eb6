package broker

import (
	"fmt"
)

// ResolveTickerToUID resolves a ticker to its instrument UID, caching the answer.
func (tc *TinkoffClient) ResolveTickerToUID(ticker string) (string, error) {
	if cached, ok := tc.uids.Load(ticker); ok {
		return cached.(string), nil
	}

	instruments := tc.Client.NewInstrumentsServiceClient()
	resp, err := instruments.FindInstrument(ticker)
	if err != nil {
		return "", fmt.Errorf("find instrument %s: %w", ticker, err)
	}

	found := resp.GetInstruments()
	for _, inst := range found {
		if inst.GetTicker() == ticker {
			tc.uids.Store(ticker, inst.GetUid())
			return inst.GetUid(), nil
		}
	}
	if len(found) > 0 {
		uid := found[0].GetUid()
		tc.uids.Store(ticker, uid)
		return uid, nil
	}

	return "", fmt.Errorf("instrument not found: %s", ticker)
}

// LotSize returns how many units one lot of the instrument holds.
func (tc *TinkoffClient) LotSize(uid string) (int64, error) {
	if cached, ok := tc.lots.Load(uid); ok {
		return cached.(int64), nil
	}

	instruments := tc.Client.NewInstrumentsServiceClient()
	resp, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return 0, fmt.Errorf("instrument by uid %s: %w", uid, err)
	}

	lot := int64(resp.GetInstrument().GetLot())
	if lot <= 0 {
		lot = 1
	}
	tc.lots.Store(uid, lot)
	return lot, nil
}

func (tc *TinkoffClient) tickerForUID(uid string) (string, error) {
	var ticker string
	tc.uids.Range(func(k, v any) bool {
		if v.(string) == uid {
			ticker = k.(string)
			return false
		}
		return true
	})
	if ticker != "" {
		return ticker, nil
	}

	instruments := tc.Client.NewInstrumentsServiceClient()
	resp, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return "", fmt.Errorf("instrument by uid %s: %w", uid, err)
	}
	ticker = resp.GetInstrument().GetTicker()
	tc.uids.Store(ticker, uid)
	return ticker, nil
}
