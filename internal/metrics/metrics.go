// Package metrics holds the Prometheus collectors updated by the engine.
//
//   - autopilot_orders_total{mode,side,result}   orders submitted to the gateway
//   - autopilot_signals_total{signal}            analyzer classifications
//   - autopilot_exits_total{tier}                exit decisions acted on
//   - autopilot_trades_total{result}             ledger trades (open|win|loss)
//   - autopilot_equity{account}                  last valuation
//   - autopilot_cycles_total{account,outcome}    finished cycles
//   - autopilot_cycle_seconds{account}           cycle duration
//   - autopilot_ticks_skipped_total{account}     ticks dropped by single-flight
//   - autopilot_notifications_failed_total       swallowed notification errors
//   - autopilot_events_dropped_total             broadcaster deliveries skipped
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	orders       *prometheus.CounterVec
	signals      *prometheus.CounterVec
	exits        *prometheus.CounterVec
	trades       *prometheus.CounterVec
	equity       *prometheus.GaugeVec
	cycles       *prometheus.CounterVec
	cycleSeconds *prometheus.HistogramVec
	ticksSkipped *prometheus.CounterVec
	notifyFailed prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_orders_total",
			Help: "Orders submitted to the gateway",
		}, []string{"mode", "side", "result"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_signals_total",
			Help: "Analyzer classifications",
		}, []string{"signal"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_exits_total",
			Help: "Exit decisions acted on, by tier",
		}, []string{"tier"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_trades_total",
			Help: "Trades recorded by result (open|win|loss)",
		}, []string{"result"}),
		equity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autopilot_equity",
			Help: "Account value at the last cycle",
		}, []string{"account"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_cycles_total",
			Help: "Finished decision cycles by outcome",
		}, []string{"account", "outcome"}),
		cycleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_cycle_seconds",
			Help:    "Decision cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"account"}),
		ticksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_ticks_skipped_total",
			Help: "Timer ticks dropped because a cycle was still running",
		}, []string{"account"}),
		notifyFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_notifications_failed_total",
			Help: "Notification attempts that failed and were swallowed",
		}),
	}
}

// WatchDropped exposes a monotonically increasing source as the events dropped counter.
func (m *Metrics) WatchDropped(source func() uint64) {
	if m == nil {
		return
	}
	promauto.With(m.Registry).NewCounterFunc(prometheus.CounterOpts{
		Name: "autopilot_events_dropped_total",
		Help: "Event deliveries skipped because a subscriber was full",
	}, func() float64 { return float64(source()) })
}

func (m *Metrics) Order(mode, side string, ok bool) {
	if m == nil {
		return
	}
	result := "filled"
	if !ok {
		result = "rejected"
	}
	m.orders.WithLabelValues(mode, side, result).Inc()
}

func (m *Metrics) Signal(signal string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(signal).Inc()
}

func (m *Metrics) Exit(tier int) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(strconv.Itoa(tier)).Inc()
}

// Trade counts a recorded trade; pnl is ignored for buys.
func (m *Metrics) Trade(side string, pnl float64) {
	if m == nil {
		return
	}
	result := "open"
	if side == "SELL" {
		result = "win"
		if pnl <= 0 {
			result = "loss"
		}
	}
	m.trades.WithLabelValues(result).Inc()
}

func (m *Metrics) Equity(account string, value float64) {
	if m == nil {
		return
	}
	m.equity.WithLabelValues(account).Set(value)
}

func (m *Metrics) Cycle(account, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(account, outcome).Inc()
	m.cycleSeconds.WithLabelValues(account).Observe(seconds)
}

func (m *Metrics) TickSkipped(account string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(account).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notifyFailed.Inc()
}
