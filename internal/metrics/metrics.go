// Package metrics exposes the Prometheus surface: one counter or gauge
// per concern across the pumping adapter, dispatcher, gateway, signal
// loop, approval state machine and order client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide metrics registry handle. Construct one with
// New and pass it by pointer to every component.
type Metrics struct {
	// Pumping Adapter
	PumpReceived         prometheus.Counter
	PumpDispatched       prometheus.Counter
	PumpDecodeErrors     prometheus.Counter
	PumpDropped          prometheus.Counter
	PumpSubscriberPanics prometheus.Counter
	PumpUptime           prometheus.Gauge

	// Event Dispatcher
	DispatchErrors    *prometheus.CounterVec
	SubscriberLagged  *prometheus.CounterVec
	QuoteCacheSize    prometheus.Gauge
	TradeCacheSize    prometheus.Gauge

	// Streaming Gateway
	GatewayConnections   prometheus.Gauge
	GatewayConnsTotal    prometheus.Counter
	GatewayAuthFailures  prometheus.Counter
	GatewayFramesSent    *prometheus.CounterVec
	GatewayClientsClosed prometheus.Counter

	// Signal Ingestion Loop
	SignalsIngested prometheus.Counter
	SignalsInvalid  prometheus.Counter
	JournalErrors   prometheus.Counter

	// Approval State Machine
	SignalsPending  prometheus.Gauge
	SignalsExecuted prometheus.Counter
	SignalsFailed   prometheus.Counter
	SignalsRejected prometheus.Counter

	// Order Client
	OrderRetries  prometheus.Counter
	OrderFailures *prometheus.CounterVec
}

// New registers every metric against the default registry.
func New() *Metrics {
	return &Metrics{
		PumpReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_pumping_received_total",
			Help: "Total push events received from the broker on the callback thread.",
		}),
		PumpDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_pumping_dispatched_total",
			Help: "Total decoded events handed to the dispatcher.",
		}),
		PumpDecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_pumping_decode_errors_total",
			Help: "Total push records that failed to decode.",
		}),
		PumpDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_pumping_dropped_total",
			Help: "Total events dropped because the handoff channel was full.",
		}),
		PumpSubscriberPanics: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_pumping_subscriber_panics_total",
			Help: "Total subscriber panics recovered by the pumping event worker.",
		}),
		PumpUptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tradebridge_pumping_uptime_seconds",
			Help: "Seconds since the pumping adapter was started.",
		}),

		DispatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebridge_dispatcher_subscriber_errors_total",
			Help: "Total subscriber panics/errors caught during dispatch.",
		}, []string{"kind"}),
		SubscriberLagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebridge_dispatcher_subscriber_lagged_total",
			Help: "Total values dropped because a subscriber's mailbox was full.",
		}, []string{"kind"}),
		QuoteCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tradebridge_dispatcher_quote_cache_size",
			Help: "Current number of symbols in the quote cache.",
		}),
		TradeCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tradebridge_dispatcher_trade_cache_size",
			Help: "Current number of orders in the trade cache.",
		}),

		GatewayConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tradebridge_gateway_connections_active",
			Help: "Current number of connected streaming clients.",
		}),
		GatewayConnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_gateway_connections_total",
			Help: "Total streaming client connections accepted.",
		}),
		GatewayAuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_gateway_auth_failures_total",
			Help: "Total bearer-token authentication failures.",
		}),
		GatewayFramesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebridge_gateway_frames_sent_total",
			Help: "Total frames sent to clients by frame type.",
		}, []string{"type"}),
		GatewayClientsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_gateway_clients_closed_total",
			Help: "Total clients closed due to outbound mailbox overflow.",
		}),

		SignalsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_signals_ingested_total",
			Help: "Total new signal ids accepted from the journal.",
		}),
		SignalsInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_signals_invalid_total",
			Help: "Total journal entries rejected by validation.",
		}),
		JournalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_signals_journal_errors_total",
			Help: "Total journal read/parse failures.",
		}),

		SignalsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tradebridge_approval_pending",
			Help: "Current number of signals awaiting a verdict.",
		}),
		SignalsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_approval_executed_total",
			Help: "Total signals that reached the executed state.",
		}),
		SignalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_approval_failed_total",
			Help: "Total signals that reached the failed state.",
		}),
		SignalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_approval_rejected_total",
			Help: "Total signals rejected by verdict.",
		}),

		OrderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradebridge_order_client_retries_total",
			Help: "Total retry attempts issued against the broker for transient failures.",
		}),
		OrderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebridge_order_client_failures_total",
			Help: "Total order client failures by error code.",
		}, []string{"code"}),
	}
}

// Uptime is a tiny helper shared by the HTTP health endpoint.
func Uptime(start time.Time) time.Duration {
	return time.Since(start)
}
