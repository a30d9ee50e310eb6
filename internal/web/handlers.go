package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/scheduler"
	"github.com/camuig/autopilot/internal/storage"
)

const defaultTradeLimit = 50

type AccountView struct {
	Settings  domain.StrategySettings    `json:"settings"`
	Scheduler scheduler.Status           `json:"scheduler"`
	Account   *domain.Account            `json:"account,omitempty"`
	// LastCycle is the equity recorded by the most recent journaled cycle.
	LastCycle *storage.PortfolioSnapshot `json:"last_cycle,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Settings.ListSettings(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]AccountView, 0, len(all))
	for _, st := range all {
		v := AccountView{Settings: st, Scheduler: s.deps.Scheduler.Status(st.AccountID)}
		if acc, err := s.deps.Ledger.Account(r.Context(), st.AccountID); err == nil {
			v.Account = &acc
		}
		if s.deps.Cycles != nil {
			if snap, err := s.deps.Cycles.GetLatestSnapshot(r.Context(), st.AccountID); err == nil {
				v.LastCycle = snap
			}
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	positions, err := s.deps.Ledger.Positions(r.Context(), id)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	prices := make(map[string]float64, len(positions))
	if s.deps.Prices != nil {
		for _, p := range positions {
			if price, ok := s.deps.Prices.LastPrice(p.Symbol); ok {
				prices[p.Symbol] = price
			}
		}
	}

	val, err := s.deps.Ledger.Valuation(r.Context(), id, prices)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, val)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Ledger.Account(r.Context(), id); errors.Is(err, ledger.ErrAccountNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}

	limit, ok := s.limit(w, r, defaultTradeLimit)
	if !ok {
		return
	}
	trades, err := s.deps.Ledger.Trades(r.Context(), id, limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycles == nil {
		s.writeJSON(w, http.StatusOK, []storage.CycleLog{})
		return
	}
	limit, ok := s.limit(w, r, 20)
	if !ok {
		return
	}
	logs, err := s.deps.Cycles.RecentCycles(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

// handleStart activates the strategy and arms its loop. Starting an armed
// account is a no-op that still reports its status.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.knownAccount(w, r, id) {
		return
	}
	if err := s.deps.Settings.SetActive(r.Context(), id, true); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if s.deps.Scheduler.Start(s.base, id) {
		s.logger.Info("strategy started over api", "account", id)
	}
	s.writeJSON(w, http.StatusOK, s.deps.Scheduler.Status(id))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.knownAccount(w, r, id) {
		return
	}
	if err := s.deps.Settings.SetActive(r.Context(), id, false); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if s.deps.Scheduler.Stop(id) {
		s.logger.Info("strategy stopped over api", "account", id)
	}
	s.writeJSON(w, http.StatusOK, s.deps.Scheduler.Status(id))
}

func (s *Server) knownAccount(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := s.deps.Settings.GetSettings(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrSettingsNotFound):
		s.fail(w, http.StatusNotFound, err)
		return false
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err)
		return false
	}
	return true
}

func (s *Server) limit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.fail(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}
