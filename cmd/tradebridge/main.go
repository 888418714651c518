// Command tradebridge wires the six core components — pumping adapter,
// event dispatcher, streaming gateway, signal ingestion loop, approval
// state machine, order client — into one running process and serves the
// streaming gateway and metrics endpoints over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tradebridge/internal/approval"
	"tradebridge/internal/broker"
	"tradebridge/internal/bus"
	"tradebridge/internal/config"
	"tradebridge/internal/dispatcher"
	"tradebridge/internal/gateway"
	"tradebridge/internal/logging"
	"tradebridge/internal/metrics"
	"tradebridge/internal/pumping"
	"tradebridge/internal/signals"
	"tradebridge/internal/types"

	_ "go.uber.org/automaxprocs"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting tradebridge")

	m := metrics.New()
	sampler := metrics.NewSystemSampler()

	distBus, err := bus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("distribution bus connect failed")
	}

	disp := dispatcher.New(cfg.SubscriberMailbox, 10000, logger, m)

	verifier := gateway.NewJWTVerifier([]byte(cfg.BearerSecret))
	gw := gateway.New(disp, verifier, cfg.ClientMailbox, cfg.PingInterval, cfg.PongDeadline, logger, m)
	defer gw.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var adapter *pumping.Adapter
	var approvalSM *approval.StateMachine
	var cancelIngestion context.CancelFunc = func() {}
	pumpShutdown := make(chan struct{})

	if cfg.GatewayOnly {
		// Replica mode: no broker connection of its own. The dispatcher is
		// fed from the distribution bus, so this process only fans quotes
		// and trades out to its streaming clients.
		err := distBus.SubscribeQuotes(func(q types.Quote) {
			disp.Deliver(pumping.DecodedEvent{Code: pumping.CodeBidAskUpdated, Quote: &q})
		})
		if err == nil {
			err = distBus.SubscribeTrades(func(t types.Trade) {
				disp.Deliver(pumping.DecodedEvent{Code: pumping.CodeTradesUpdated, Trade: &t})
			})
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("distribution bus subscribe failed")
		}
		logger.Info().Msg("running as gateway-only replica")
	} else {
		manager := newBrokerManager(cfg, logger)

		if distBus != nil {
			// The cross-instance mirror is throttled per symbol; replicas
			// only need the latest value, not the full broker-side flood.
			agg := dispatcher.NewQuoteAggregator(cfg.MaxQuoteUpdatesPerSec, distBus.PublishQuote)
			disp.SubscribeAllQuotes(agg.Handle)
			disp.SubscribeAllTrades(distBus.PublishTrade)
		}

		orderClient := broker.NewClient(manager, cfg.RetryMax, cfg.RetryDelay, logger, m)
		approvalSM = approval.New(disp, orderClient, manager, cfg.RetentionWindow, logger, m)

		ingestion := signals.New(cfg.JournalPath, cfg.SignalDebounce, cfg.SignalCheckInterval, approvalSM, logger, m)

		adapter = pumping.New(manager, cfg.HandoffCapacity, cfg.PumpingStartupWindow, cfg.PumpingPingInterval, cfg.PingTimeoutFactor, logger, m)

		if _, err := manager.Connect(ctx, "localhost", 0); err != nil {
			logger.Fatal().Err(err).Msg("broker connect failed")
		}
		if _, err := manager.Login(ctx, 0, ""); err != nil {
			logger.Fatal().Err(err).Msg("broker login failed")
		}

		if _, err := adapter.Start(ctx, disp, pumpShutdown); err != nil {
			logger.Fatal().Err(err).Msg("pumping adapter start failed")
		}

		go func() {
			select {
			case <-adapter.ConnectionLost():
				approvalSM.SetConnectionLost(true)
			case <-ctx.Done():
			}
		}()

		var ingestionCtx context.Context
		ingestionCtx, cancelIngestion = context.WithCancel(ctx)
		go func() {
			if err := ingestion.Run(ingestionCtx); err != nil {
				logger.Error().Err(err).Msg("signal ingestion loop exited")
			}
		}()

		go runEvictionLoop(ctx, approvalSM, cfg.RetentionWindow)
	}

	go runSystemSampler(ctx, sampler)

	mux := http.NewServeMux()
	mux.HandleFunc("/", gw.ServeHTTP)
	gatewaySrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		dispStats := disp.Stats()
		payload := map[string]any{
			"status":            "healthy",
			"uptime":            metrics.Uptime(startTime).String(),
			"cached_symbols":    dispStats.Symbols,
			"cached_trades":     dispStats.Trades,
			"connected_clients": gw.ClientCount(),
		}
		if adapter != nil {
			stats := adapter.Stats()
			payload["pumping"] = map[string]any{
				"received":      stats.Received,
				"dispatched":    stats.Dispatched,
				"decode_errors": stats.DecodeErrors,
				"dropped":       stats.Dropped,
			}
		}
		if approvalSM != nil {
			payload["pending_signals"] = approvalSM.PendingCount()
		}
		writeJSON(w, payload)
	})
	metricsMux.HandleFunc("/metrics/system", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sampler.Snapshot())
	})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- runServer(gatewaySrv, "streaming gateway", logger) }()
	go func() { errCh <- runServer(metricsSrv, "metrics server", logger) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error, shutting down")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = gatewaySrv.Shutdown(shutdownCtx)
	gw.Shutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)

	cancelIngestion()
	close(pumpShutdown)
	if adapter != nil {
		adapter.Stop()
	}
	distBus.Close()

	logger.Info().Msg("tradebridge stopped")
}

// runServer starts srv and blocks until it exits. http.ErrServerClosed is
// the expected exit on graceful Shutdown and is not reported as an error.
func runServer(srv *http.Server, name string, logger zerolog.Logger) error {
	logger.Info().Str("addr", srv.Addr).Str("server", name).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func runEvictionLoop(ctx context.Context, sm *approval.StateMachine, retention time.Duration) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.Evict(now)
		}
	}
}

func runSystemSampler(ctx context.Context, sampler *metrics.SystemSampler) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampler.Sample()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newBrokerManager returns the mock backend, the only broker manager
// implementation that ships in this repo. The native manager-library
// binding lives outside this codebase; deployments that have it swap it
// in here, keyed off MOCK_MODE.
func newBrokerManager(cfg *config.Config, logger zerolog.Logger) broker.BrokerManager {
	if !cfg.MockMode {
		logger.Warn().Msg("native broker library binding not available in this build, using mock backend")
	}
	seed := map[string]broker.SymbolInfo{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10020, Digits: 5},
		"GBPUSD": {Symbol: "GBPUSD", Bid: 1.27000, Ask: 1.27025, Digits: 5},
		"USDJPY": {Symbol: "USDJPY", Bid: 149.500, Ask: 149.520, Digits: 3},
	}
	return broker.NewMockManager(seed)
}
