package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/autopilot/internal/domain"
)

type CandleSnapshot struct {
	Ticker        string
	InstrumentUID string
	LastPrice     float64
	Price1dAgo    float64
	Volume24h     float64
}

// Instrument converts the candle snapshot into a market snapshot row.
func (s CandleSnapshot) Instrument() domain.Instrument {
	inst := domain.Instrument{
		Symbol:       s.Ticker,
		CurrentPrice: s.LastPrice,
		Volume24h:    s.Volume24h,
	}
	if s.Price1dAgo > 0 {
		inst.PriceChange24h = (s.LastPrice/s.Price1dAgo - 1) * 100
	}
	return inst
}

// Snapshot builds instruments for the universe from hourly candles.
// Tickers that fail are skipped; ErrNoMarketData is returned when all of them fail.
func (tc *TinkoffClient) Snapshot(ctx context.Context, universe []string) ([]domain.Instrument, error) {
	snaps := tc.FetchCandleSnapshots(ctx, universe, tc.Config.Market.CandleConcurrency)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %d tickers requested", ErrNoMarketData, len(universe))
	}

	out := make([]domain.Instrument, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Instrument())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// FetchCandleSnapshots loads snapshots with a pool of workers. Tickers whose
// candles fail to load or carry no price are left out.
func (tc *TinkoffClient) FetchCandleSnapshots(ctx context.Context, tickers []string, workers int) []CandleSnapshot {
	if workers <= 0 {
		workers = 10
	}
	workers = min(workers, len(tickers))

	jobs := make(chan string)
	found := make(chan CandleSnapshot, len(tickers))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				snap, ok, err := tc.candleSnapshot(ctx, ticker)
				if err != nil {
					tc.Logger.Warn("fetch candles", "ticker", ticker, "error", err)
					continue
				}
				if ok {
					found <- snap
				}
			}
		}()
	}

feed:
	for _, t := range tickers {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(found)

	out := make([]CandleSnapshot, 0, len(found))
	for snap := range found {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (tc *TinkoffClient) candleSnapshot(ctx context.Context, ticker string) (CandleSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return CandleSnapshot{}, false, err
	}
	uid, err := tc.ResolveTickerToUID(ticker)
	if err != nil {
		return CandleSnapshot{}, false, err
	}

	now := time.Now()
	resp, err := tc.Client.NewMarketDataServiceClient().GetCandles(
		uid,
		pb.CandleInterval_CANDLE_INTERVAL_HOUR,
		now.Add(-candleLookback), now,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		return CandleSnapshot{}, false, fmt.Errorf("get candles: %w", err)
	}

	snap, ok := snapshotFromCandles(ticker, resp.GetCandles(), now)
	snap.InstrumentUID = uid
	return snap, ok, nil
}

// candleLookback covers a full day plus a weekend-free margin of hourly candles.
const candleLookback = 48 * time.Hour

// snapshotFromCandles takes the last price from the newest candle, the
// reference price from the candle nearest to 24h before now and sums the
// volume of the last 24h. It reports false when there is no usable price.
func snapshotFromCandles(ticker string, candles []*pb.HistoricCandle, now time.Time) (CandleSnapshot, bool) {
	snap := CandleSnapshot{Ticker: ticker}
	dayAgo := now.Add(-24 * time.Hour)

	var newest, nearest *pb.HistoricCandle
	var nearestGap time.Duration
	for _, c := range candles {
		at := c.GetTime().AsTime()
		if newest == nil || at.After(newest.GetTime().AsTime()) {
			newest = c
		}
		gap := at.Sub(dayAgo)
		if gap < 0 {
			gap = -gap
		}
		if nearest == nil || gap < nearestGap {
			nearest, nearestGap = c, gap
		}
		if at.After(dayAgo) {
			snap.Volume24h += float64(c.GetVolume())
		}
	}
	if newest == nil {
		return snap, false
	}

	snap.LastPrice = newest.GetClose().ToFloat()
	if nearest != newest {
		snap.Price1dAgo = nearest.GetClose().ToFloat()
	}
	return snap, snap.LastPrice > 0
}
