package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
)

type State int

const (
	// StateStopped: no loop is armed for the account.
	StateStopped State = iota
	// StateIdle: the loop is armed and waiting for the next tick.
	StateIdle
	// StateRunning: the loop is armed and a cycle is executing.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Runner executes one decision cycle for an account.
type Runner interface {
	Run(ctx context.Context, accountID string) (Outcome, error)
}

type Status struct {
	AccountID string    `json:"account_id"`
	State     string    `json:"state"`
	Cycles    uint64    `json:"cycles"`
	Skipped   uint64    `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// guard is per account and outlives loop restarts, so a cycle left running
// by a stopped loop still blocks the next loop's cycles.
type guard struct {
	inFlight atomic.Bool
	cycles   atomic.Uint64
	skipped  atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

type handle struct {
	cancel  context.CancelFunc
	stopped bool
}

// Registry owns one timer loop per account.
type Registry struct {
	runner   Runner
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.Mutex
	handles map[string]*handle
	guards  map[string]*guard
	wg      sync.WaitGroup
}

func NewRegistry(runner Runner, interval time.Duration, m *metrics.Metrics, log *logger.Logger) *Registry {
	return &Registry{
		runner:   runner,
		interval: interval,
		metrics:  m,
		logger:   log,
		handles:  make(map[string]*handle),
		guards:   make(map[string]*guard),
	}
}

// Start arms the loop for accountID and runs the first cycle immediately.
// It returns false if the loop is already armed.
func (r *Registry) Start(ctx context.Context, accountID string) bool {
	r.mu.Lock()
	if h, ok := r.handles[accountID]; ok && !h.stopped {
		r.mu.Unlock()
		return false
	}
	g, ok := r.guards[accountID]
	if !ok {
		g = &guard{}
		r.guards[accountID] = g
	}
	loopCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}
	r.handles[accountID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("scheduler started", "account", accountID, "interval", r.interval.String())
	go r.loop(loopCtx, accountID, h, g)
	return true
}

// Stop disarms the loop. An in-flight cycle is allowed to finish.
// It returns false if the loop was not armed.
func (r *Registry) Stop(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(accountID, r.handles[accountID])
}

// stopHandle disarms h only while it is still the account's current loop.
func (r *Registry) stopHandle(accountID string, h *handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[accountID] != h {
		return false
	}
	return r.stopLocked(accountID, h)
}

func (r *Registry) stopLocked(accountID string, h *handle) bool {
	if h == nil || h.stopped {
		return false
	}
	h.stopped = true
	h.cancel()
	r.logger.Info("scheduler stopped", "account", accountID)
	return true
}

// Shutdown stops every loop and waits for in-flight cycles.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, h := range r.handles {
		if !h.stopped {
			h.stopped = true
			h.cancel()
			r.logger.Info("scheduler stopped", "account", id)
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) State(accountID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(accountID)
}

func (r *Registry) stateLocked(accountID string) State {
	h, ok := r.handles[accountID]
	if !ok || h.stopped {
		return StateStopped
	}
	if g := r.guards[accountID]; g != nil && g.inFlight.Load() {
		return StateRunning
	}
	return StateIdle
}

func (r *Registry) Status(accountID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(accountID)
}

func (r *Registry) statusLocked(accountID string) Status {
	st := Status{AccountID: accountID, State: r.stateLocked(accountID).String()}
	if g := r.guards[accountID]; g != nil {
		st.Cycles = g.cycles.Load()
		st.Skipped = g.skipped.Load()
		g.mu.Lock()
		st.LastRun = g.lastRun
		st.LastError = g.lastErr
		g.mu.Unlock()
	}
	return st
}

// Statuses lists every account the registry has seen.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.guards))
	for id := range r.guards {
		out = append(out, r.statusLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (r *Registry) loop(ctx context.Context, accountID string, h *handle, g *guard) {
	defer r.wg.Done()

	r.tick(ctx, accountID, h, g)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, accountID, h, g)
		}
	}
}

// tick starts a cycle unless one is still running, in which case the tick is dropped.
func (r *Registry) tick(ctx context.Context, accountID string, h *handle, g *guard) {
	if ctx.Err() != nil {
		return
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		g.skipped.Add(1)
		r.metrics.TickSkipped(accountID)
		r.logger.Debug("previous cycle still running, tick skipped", "account", accountID)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer g.inFlight.Store(false)

		outcome, err := r.runner.Run(context.WithoutCancel(ctx), accountID)
		g.cycles.Add(1)
		g.mu.Lock()
		g.lastRun = time.Now()
		g.lastErr = ""
		if err != nil {
			g.lastErr = err.Error()
		}
		g.mu.Unlock()

		if outcome == OutcomeHalt {
			r.stopHandle(accountID, h)
		}
	}()
}
