package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/scheduler"
	"github.com/camuig/autopilot/internal/storage"
)

type fakeSettings struct {
	mu  sync.Mutex
	all map[string]domain.StrategySettings
}

func (f *fakeSettings) ListSettings(context.Context) ([]domain.StrategySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StrategySettings
	for _, id := range []string{"a1", "a2"} {
		if s, ok := f.all[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSettings) GetSettings(_ context.Context, id string) (domain.StrategySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.all[id]
	if !ok {
		return domain.StrategySettings{}, storage.ErrSettingsNotFound
	}
	return s, nil
}

func (f *fakeSettings) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.all[id]
	s.IsActive = active
	f.all[id] = s
	return nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	armed map[string]bool
}

func (f *fakeScheduler) Start(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed[id] {
		return false
	}
	f.armed[id] = true
	return true
}

func (f *fakeScheduler) Stop(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.armed[id]
	f.armed[id] = false
	return was
}

func (f *fakeScheduler) Status(id string) scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := scheduler.StateStopped
	if f.armed[id] {
		st = scheduler.StateIdle
	}
	return scheduler.Status{AccountID: id, State: st.String()}
}

type priceMap map[string]float64

func (p priceMap) LastPrice(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

type env struct {
	ts       *httptest.Server
	ledger   *ledger.Ledger
	settings *fakeSettings
	sched    *fakeScheduler
	bus      *events.Broadcaster
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := ledger.New(ledger.NewMemoryStore(), logger.Discard())
	_, _, err := l.Open(ctx, "a1", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = l.ApplyBuy(ctx, "a1", "SBER", decimal.NewFromInt(2), decimal.NewFromInt(10), decimal.NewFromInt(20), ledger.TradeMeta{Reason: "test"})
	require.NoError(t, err)

	e := &env{
		ledger: l,
		settings: &fakeSettings{all: map[string]domain.StrategySettings{
			"a1": {AccountID: "a1", StrategyID: "balanced", RiskLevel: 5},
		}},
		sched:   &fakeScheduler{armed: map[string]bool{}},
		bus:     events.NewBroadcaster(),
		metrics: metrics.New(),
	}
	srv := NewServer(ctx, Deps{
		Ledger:    l,
		Settings:  e.settings,
		Scheduler: e.sched,
		Prices:    priceMap{"SBER": 12.5},
		Events:    e.bus,
		Metrics:   e.metrics,
	}, config.WebConfig{Port: 0}, logger.Discard())

	e.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(e.ts.Close)
	t.Cleanup(e.bus.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestPortfolio(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/accounts/a1/portfolio")
	require.Equal(t, http.StatusOK, code, string(body))

	var val ledger.Valuation
	require.NoError(t, json.Unmarshal(body, &val))
	assert.True(t, val.Account.MainBalance.Equal(decimal.NewFromInt(80)))
	require.Len(t, val.Positions, 1)
	assert.True(t, val.PositionsValue.Equal(decimal.NewFromInt(25)), val.PositionsValue.String())
	assert.True(t, val.Total.Equal(decimal.NewFromInt(105)))

	code, _ = e.do(t, http.MethodGet, "/api/accounts/nobody/portfolio")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTrades(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/accounts/a1/trades?limit=10")
	require.Equal(t, http.StatusOK, code)
	var trades []domain.Trade
	require.NoError(t, json.Unmarshal(body, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, domain.Buy, trades[0].Type)
	assert.Equal(t, "SBER", trades[0].Symbol)

	code, _ = e.do(t, http.MethodGet, "/api/accounts/a1/trades?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/accounts/nobody/trades")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartStop(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, http.MethodPost, "/api/accounts/a1/start")
	require.Equal(t, http.StatusOK, code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "idle", st.State)
	assert.True(t, e.settings.all["a1"].IsActive)

	// repeated start is harmless
	code, _ = e.do(t, http.MethodPost, "/api/accounts/a1/start")
	assert.Equal(t, http.StatusOK, code)

	code, body = e.do(t, http.MethodPost, "/api/accounts/a1/stop")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "stopped", st.State)
	assert.False(t, e.settings.all["a1"].IsActive)

	code, _ = e.do(t, http.MethodPost, "/api/accounts/nobody/start")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodGet, "/api/accounts/a1/start")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestAccounts(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/accounts")
	require.Equal(t, http.StatusOK, code)
	var views []AccountView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "a1", views[0].Settings.AccountID)
	require.NotNil(t, views[0].Account)
	assert.True(t, views[0].Account.MainBalance.Equal(decimal.NewFromInt(80)))
}

func TestCyclesWithoutJournal(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/api/accounts/a1/cycles")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestAccountsAndCyclesFromJournal(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	l := ledger.New(repo, logger.Discard())
	_, _, err = l.Open(ctx, "a1", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, repo.RecordCycle(ctx, domain.CycleReport{
		AccountID:   "a1",
		StartedAt:   time.Now().UTC(),
		Duration:    40 * time.Millisecond,
		Outcome:     "continue",
		Instruments: 3,
		MainBalance: decimal.NewFromInt(100),
		Total:       decimal.NewFromInt(100),
	}))

	srv := NewServer(ctx, Deps{
		Ledger: l,
		Settings: &fakeSettings{all: map[string]domain.StrategySettings{
			"a1": {AccountID: "a1", StrategyID: "balanced", RiskLevel: 5},
		}},
		Scheduler: &fakeScheduler{armed: map[string]bool{}},
		Cycles:    repo,
	}, config.WebConfig{}, logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/accounts")
	require.NoError(t, err)
	var views []AccountView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	resp.Body.Close()
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LastCycle)
	assert.True(t, views[0].LastCycle.Total.Equal(decimal.NewFromInt(100)))

	resp, err = http.Get(ts.URL + "/api/accounts/a1/cycles?limit=5")
	require.NoError(t, err)
	var logs []storage.CycleLog
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	resp.Body.Close()
	require.Len(t, logs, 1)
	assert.Equal(t, "continue", logs[0].Outcome)
	assert.Equal(t, 3, logs[0].Instruments)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.metrics.Order("paper", "BUY", true)

	code, body := e.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "autopilot_orders_total")
}

func TestWebsocketStreamsAccountEvents(t *testing.T) {
	e := newEnv(t)

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws?account=a1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	e.bus.Publish(events.TypeBalance, "a2", "other account")
	e.bus.Publish(events.TypeStatus, "a1", map[string]any{"active": false})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Type      string         `json:"type"`
		AccountID string         `json:"account_id"`
		Payload   map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "status", got.Type)
	assert.Equal(t, "a1", got.AccountID)
	assert.Equal(t, false, got.Payload["active"])

	conn.Close()
	assert.Eventually(t, func() bool { return e.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
