package moex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/camuig/autopilot/internal/domain"
)

const marketdataPath = "/iss/engines/stock/markets/shares/boards/TQBR/securities.json?iss.meta=off&iss.only=marketdata&marketdata.columns=SECID,LAST,LASTTOPREVPRICE,VOLTODAY,VALTODAY"

var ErrNoData = errors.New("MOEX ISS returned no priced securities")

type issResponse struct {
	Marketdata struct {
		Columns []string        `json:"columns"`
		Data    [][]interface{} `json:"data"`
	} `json:"marketdata"`
}

// FetchMarketdata returns every TQBR security with a last price, sorted by turnover.
func (c *Client) FetchMarketdata(ctx context.Context) ([]MarketTicker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+marketdataPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch marketdata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MOEX ISS returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var iss issResponse
	if err := json.Unmarshal(body, &iss); err != nil {
		return nil, fmt.Errorf("parse ISS response: %w", err)
	}

	col := make(map[string]int, len(iss.Marketdata.Columns))
	for i, name := range iss.Marketdata.Columns {
		col[name] = i
	}
	field := func(row []interface{}, name string) interface{} {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	var result []MarketTicker
	for _, row := range iss.Marketdata.Data {
		ticker, _ := field(row, "SECID").(string)
		if ticker == "" {
			continue
		}

		lastPrice := toFloat64(field(row, "LAST"))
		if lastPrice == 0 {
			continue // приостановленные торги
		}

		result = append(result, MarketTicker{
			Ticker:    ticker,
			LastPrice: lastPrice,
			ChangePct: toFloat64(field(row, "LASTTOPREVPRICE")),
			VolToday:  toFloat64(field(row, "VOLTODAY")),
			ValToday:  toFloat64(field(row, "VALTODAY")),
		})
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].ValToday > result[j].ValToday })
	return result, nil
}

// Snapshot returns instruments for the universe, or for the topN most traded
// securities when the universe is empty.
func (c *Client) Snapshot(ctx context.Context, universe []string) ([]domain.Instrument, error) {
	tickers, err := c.FetchMarketdata(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(universe))
	for _, s := range universe {
		want[s] = true
	}

	var out []domain.Instrument
	for _, t := range tickers {
		if len(want) > 0 && !want[t.Ticker] {
			continue
		}
		out = append(out, domain.Instrument{
			Symbol:         t.Ticker,
			CurrentPrice:   t.LastPrice,
			PriceChange24h: t.ChangePct,
			Volume24h:      t.VolToday,
		})
		if len(want) == 0 && c.topN > 0 && len(out) >= c.topN {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrNoData
	}
	c.logger.Debug("moex snapshot", "instruments", len(out))
	return out, nil
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
