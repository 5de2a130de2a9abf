// Prometheus metrics for the bar pipeline, served at /metrics:
//   • rt_trades_collected_total        – trade ticks folded into bars
//   • rt_bars_built_total              – bars appended to the live buffer
//   • rt_gap_bars_total                – synthetic bars inserted by the gap fixer
//   • rt_lifecycle_events_total{type}  – prerun/run events emitted
//   • rt_history_downloads_total{result} – full-history download attempts
//   • rt_ws_clients                    – connected bus/UI subscribers
package dataservice

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTradesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rt_trades_collected_total",
			Help: "Trade ticks folded into live bars",
		},
	)

	mtxBarsBuilt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rt_bars_built_total",
			Help: "Bars appended to the live buffer",
		},
	)

	mtxGapBars = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rt_gap_bars_total",
			Help: "Synthetic fill bars inserted by the gap fixer",
		},
	)

	mtxLifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rt_lifecycle_events_total",
			Help: "Lifecycle events emitted to the runner",
		},
		[]string{"type"},
	)

	mtxHistoryDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rt_history_downloads_total",
			Help: "Full-history download attempts",
		},
		[]string{"result"},
	)

	mtxWSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rt_ws_clients",
			Help: "Connected websocket subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTradesCollected,
		mtxBarsBuilt,
		mtxGapBars,
		mtxLifecycleEvents,
		mtxHistoryDownloads,
		mtxWSClients,
	)
}
