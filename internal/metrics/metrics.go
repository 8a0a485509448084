// Package metrics exposes Prometheus counters and gauges for the
// policy engines, registered once at process start and served over
// /metrics in the Prometheus text exposition format. Adapted from
// metrics.go's package-level CounterVec/GaugeVec + init()-time
// MustRegister shape, generalized from paper-trading-bot labels
// (mode/side/signal) to this system's own label set (provider/symbol/
// side) and driven by eventbus.Event subscriptions instead of direct
// call-site Inc()/Set() calls scattered through the trading logic.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentineldesk/core/internal/eventbus"
)

var (
	signalsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_signals_ingested_total",
			Help: "Signals ingested, labeled by provider.",
		},
		[]string{"provider"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_orders_placed_total",
			Help: "Orders placed, labeled by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	ordersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_orders_failed_total",
			Help: "Order placements that failed, labeled by symbol.",
		},
		[]string{"symbol"},
	)

	tpHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tp_hits_total",
			Help: "Take-profit levels hit, labeled by symbol.",
		},
		[]string{"symbol"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_positions_closed_total",
			Help: "Positions fully closed, labeled by symbol.",
		},
		[]string{"symbol"},
	)

	marginAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_margin_alerts_total",
			Help: "Margin threshold alerts fired.",
		},
	)

	marginLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_margin_level_ratio",
			Help: "Most recent margin level snapshot.",
		},
	)
)

func init() {
	prometheus.MustRegister(signalsIngested, ordersPlaced, ordersFailed, tpHits, positionsClosed, marginAlerts, marginLevel)
}

// IncSignalIngested records one signal accepted for a provider.
func IncSignalIngested(provider string) { signalsIngested.WithLabelValues(provider).Inc() }

// SetMarginLevel updates the margin-level gauge.
func SetMarginLevel(ratio float64) { marginLevel.Set(ratio) }

// symbolOf extracts the symbol this package cares about from an
// event's loosely-typed Data payload; unrecognized shapes are
// labeled "unknown" rather than dropped, so a counter never silently
// stops incrementing when an upstream event payload shape changes.
func symbolOf(data interface{}) string {
	type symbolCarrier interface{ GetSymbol() string }
	if sc, ok := data.(symbolCarrier); ok {
		return sc.GetSymbol()
	}
	return "unknown"
}

// Relay subscribes to bus and updates the registered metrics from
// published lifecycle events until ctx is cancelled.
func Relay(ctx context.Context, bus *eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.OrderFailed:
				ordersFailed.WithLabelValues(symbolOf(ev.Data)).Inc()
			case eventbus.TPHit:
				tpHits.WithLabelValues(symbolOf(ev.Data)).Inc()
			case eventbus.PositionClosed:
				positionsClosed.WithLabelValues(symbolOf(ev.Data)).Inc()
			case eventbus.MarginAlert:
				marginAlerts.Inc()
			case eventbus.PositionOpened:
				ordersPlaced.WithLabelValues(symbolOf(ev.Data), "").Inc()
			}
		}
	}
}
