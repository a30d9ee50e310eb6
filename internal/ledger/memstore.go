package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/autopilot/internal/domain"
)

type memState struct {
	accounts  map[string]domain.Account
	positions map[string]map[string]domain.Position
	trades    map[string][]domain.Trade
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[string]domain.Account),
		positions: make(map[string]map[string]domain.Position),
		trades:    make(map[string][]domain.Trade),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for acc, bySymbol := range s.positions {
		m := make(map[string]domain.Position, len(bySymbol))
		for sym, p := range bySymbol {
			m[sym] = p
		}
		c.positions[acc] = m
	}
	for acc, trades := range s.trades {
		c.trades[acc] = append([]domain.Trade(nil), trades...)
	}
	return c
}

// MemoryStore keeps ledger state in process memory.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

func (m *MemoryStore) tx() memTx { return memTx{st: m.st} }

func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetAccount(ctx, accountID)
}

func (m *MemoryStore) SaveAccount(ctx context.Context, acc domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().SaveAccount(ctx, acc)
}

func (m *MemoryStore) GetPosition(ctx context.Context, accountID, symbol string) (domain.Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetPosition(ctx, accountID, symbol)
}

func (m *MemoryStore) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListPositions(ctx, accountID)
}

func (m *MemoryStore) UpsertPosition(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpsertPosition(ctx, pos)
}

func (m *MemoryStore) DeletePosition(ctx context.Context, accountID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().DeletePosition(ctx, accountID, symbol)
}

func (m *MemoryStore) InsertTrade(ctx context.Context, trade domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().InsertTrade(ctx, trade)
}

func (m *MemoryStore) ListTrades(ctx context.Context, accountID string, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListTrades(ctx, accountID, limit)
}

func (m *MemoryStore) SumPnLSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().SumPnLSince(ctx, accountID, since)
}

// Atomic snapshots the state and restores it if fn fails.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.st.clone()
	if err := fn(m.tx()); err != nil {
		m.st = backup
		return err
	}
	return nil
}

// memTx operates on the state without locking; the caller holds the lock.
type memTx struct {
	st *memState
}

func (t memTx) GetAccount(_ context.Context, accountID string) (domain.Account, error) {
	acc, ok := t.st.accounts[accountID]
	if !ok {
		return domain.Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (t memTx) SaveAccount(_ context.Context, acc domain.Account) error {
	t.st.accounts[acc.ID] = acc
	return nil
}

func (t memTx) GetPosition(_ context.Context, accountID, symbol string) (domain.Position, bool, error) {
	p, ok := t.st.positions[accountID][symbol]
	return p, ok, nil
}

func (t memTx) ListPositions(_ context.Context, accountID string) ([]domain.Position, error) {
	bySymbol := t.st.positions[accountID]
	out := make([]domain.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t memTx) UpsertPosition(_ context.Context, pos domain.Position) error {
	m, ok := t.st.positions[pos.AccountID]
	if !ok {
		m = make(map[string]domain.Position)
		t.st.positions[pos.AccountID] = m
	}
	m[pos.Symbol] = pos
	return nil
}

func (t memTx) DeletePosition(_ context.Context, accountID, symbol string) error {
	delete(t.st.positions[accountID], symbol)
	return nil
}

func (t memTx) InsertTrade(_ context.Context, trade domain.Trade) error {
	t.st.trades[trade.AccountID] = append(t.st.trades[trade.AccountID], trade)
	return nil
}

func (t memTx) ListTrades(_ context.Context, accountID string, limit int) ([]domain.Trade, error) {
	all := t.st.trades[accountID]
	out := make([]domain.Trade, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t memTx) SumPnLSince(_ context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tr := range t.st.trades[accountID] {
		if tr.Type == domain.Sell && !tr.Timestamp.Before(since) {
			total = total.Add(tr.PnL)
		}
	}
	return total, nil
}

func (t memTx) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}
