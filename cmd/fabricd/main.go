// Command fabricd is the real-time agent-orchestration fabric's process
// entrypoint: it wires the broker gateway, event publisher, WebSocket
// connection manager, progressive-feedback trackers, scheduler, and
// performance monitor into one running process and serves the
// WebSocket and health/metrics endpoints until a shutdown signal
// arrives.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentfabric/fabric/internal/broker"
	"github.com/agentfabric/fabric/internal/config"
	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/feedback"
	"github.com/agentfabric/fabric/internal/observability"
	"github.com/agentfabric/fabric/internal/perf"
	"github.com/agentfabric/fabric/internal/realtime/publish"
	"github.com/agentfabric/fabric/internal/realtime/ws"
	"github.com/agentfabric/fabric/internal/scheduler"
	"github.com/agentfabric/fabric/internal/session"
)

func main() {
	if err := run(); err != nil {
		panic(err)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obsConfig := observability.DefaultConfig(cfg.ServiceName)
	obs, err := observability.NewObservability(obsConfig)
	if err != nil {
		return err
	}
	logger := obs.Logger

	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return err
	}
	tracer := observability.NewTraceManager(obsConfig.ServiceName)

	gateway := dialGateway(ctx, cfg, logger, metrics)
	if gateway != nil {
		defer func() {
			if err := gateway.Close(); err != nil {
				logger.Error("error closing broker gateway", slog.Any("error", err))
			}
		}()
	}

	publisher := publish.New(gateway, publish.Config{
		ChannelPrefix:             cfg.RedisChannelPrefix,
		BufferSize:                cfg.BufferSize,
		BroadcastAgentStatus:      cfg.BroadcastAgentStatus,
		BroadcastWorkflowProgress: cfg.BroadcastWorkflowProgress,
		BroadcastSystemMetrics:    cfg.BroadcastSystemMetrics,
	}, logger, tracer, metrics)

	clock := events.NewClock()
	sessions := session.NewInMemoryStore()

	wsManager := ws.NewManager(ws.Config{
		Path:              cfg.WebSocketPath,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
		MaxConnections:    cfg.MaxConnections,
		AuthRequired:      cfg.AuthRequired,
		AuthTimeout:       cfg.AuthTimeout,
		OutboundQueueSize: cfg.OutboundQueueSize,
		RecoveryEnabled:   cfg.RecoveryEnabled,
		RecoveryTimeout:   cfg.RecoveryTimeout,
	}, sessions, publisher, logger, tracer, metrics)
	wsManager.Start()
	defer shutdownWithTimeout("ws manager", logger, wsManager.Shutdown)

	opTracker := feedback.NewTracker(feedback.Config{
		Source:                    "operation_tracker",
		MaxUpdatesPerOperation:    cfg.MaxUpdatesPerOperation,
		CleanupInterval:           cfg.CleanupInterval,
		OperationTimeout:          cfg.OperationTimeout,
		StreamIntermediateResults: cfg.StreamIntermediateResults,
	}, clock, publisher, logger)
	opTracker.Start()
	defer shutdownWithTimeout("operation tracker", logger, func(ctx context.Context) error {
		opTracker.Stop(ctx)
		return nil
	})

	profiles := scheduler.NewStore()
	sched := scheduler.NewScheduler(profiles, scheduler.Adaptive, logger, metrics)

	perfMonitor := perf.NewMonitor(1000, cfg.AnalysisWindow, 2*time.Second)

	alerts := perf.NewManager(cfg.AlertCheckInterval, cfg.AlertCooldown, latencyEvaluator(perfMonitor), logger, metrics)
	alerts.AddNotificationHandler(perf.ConsoleNotificationHandler(logger))
	alerts.Start()
	defer alerts.Stop()

	bgDone := make(chan struct{})
	go runBackgroundLoops(ctx, bgDone, cfg, logger, clock, publisher, sched, profiles, perfMonitor)
	defer func() {
		cancel()
		<-bgDone
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocketPath, wsManager.HandleUpgrade)
	wsServer := &http.Server{Addr: cfg.WebSocketListenAddr, Handler: mux}

	healthServer := observability.NewHealthServer(cfg.HealthPort, cfg.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))
	if gateway != nil {
		if pinger, ok := gateway.(interface{ Ping(context.Context) error }); ok {
			healthServer.AddChecker("broker", observability.NewPingerHealthChecker("broker", pinger.Ping))
		}
	}

	serverErrs := make(chan error, 2)
	go func() {
		logger.Info("websocket server listening", slog.String("addr", cfg.WebSocketListenAddr), slog.String("path", cfg.WebSocketPath))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()
	go func() {
		logger.Info("health/metrics server listening", slog.String("port", cfg.HealthPort))
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received shutdown signal")
	case err := <-serverErrs:
		logger.Error("server failed", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down websocket server", slog.Any("error", err))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health server", slog.Any("error", err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down observability", slog.Any("error", err))
	}
	return nil
}

// dialGateway attempts a Redis-backed broker gateway and falls back to nil
// (in-process fan-out only, no cross-instance delivery) if Redis is
// unreachable, since publish.Publisher is documented safe with a nil
// gateway.
func dialGateway(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, metrics *observability.MetricsManager) broker.Gateway {
	if !cfg.EventsEnabled {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	gw, err := broker.NewRedisGateway(dialCtx, broker.RedisOptions{Addr: cfg.RedisAddr}, logger, metrics)
	if err != nil {
		logger.Warn("redis broker unavailable, falling back to in-process fan-out only", slog.Any("error", err))
		return nil
	}
	return gw
}

// latencyEvaluator adapts the Latency Monitor's rolling stats into the
// Alert Manager's pluggable Evaluator shape: a rule names its operation
// type in the "op_type" label and its metric in the "metric" annotation
// ("success_rate", "p99_seconds", or anything else for p95 seconds),
// without the alert manager knowing anything about the monitor's internals.
func latencyEvaluator(monitor *perf.Monitor) perf.Evaluator {
	return func(ctx context.Context, rule perf.Rule) ([]perf.QueryResult, error) {
		opType := rule.Labels["op_type"]
		stats, ok := monitor.Stats(opType, "")
		if !ok {
			return nil, nil
		}
		metric := rule.Annotations["metric"]
		var value float64
		switch metric {
		case "success_rate":
			value = stats.SuccessRate
		case "p99_seconds":
			value = stats.P99.Seconds()
		default:
			value = stats.P95.Seconds()
		}
		return []perf.QueryResult{{Value: value, Labels: map[string]string{"op_type": opType}}}, nil
	}
}

// runBackgroundLoops drives the scheduler's retry dispatch, agent profile
// heartbeat publication, and bottleneck-to-optimization-event sweep on
// their own fixed intervals until ctx is cancelled.
func runBackgroundLoops(
	ctx context.Context,
	done chan<- struct{},
	cfg *config.AppConfig,
	logger *slog.Logger,
	clock *events.Clock,
	publisher *publish.Publisher,
	sched *scheduler.Scheduler,
	profiles *scheduler.Store,
	monitor *perf.Monitor,
) {
	defer close(done)

	profileInterval := cfg.ProfileUpdateInterval
	if profileInterval <= 0 {
		profileInterval = 15 * time.Second
	}
	bottleneckInterval := cfg.AnalysisWindow / 4
	if bottleneckInterval <= 0 {
		bottleneckInterval = time.Minute
	}

	dispatchTicker := time.NewTicker(time.Second)
	defer dispatchTicker.Stop()
	profileTicker := time.NewTicker(profileInterval)
	defer profileTicker.Stop()
	bottleneckTicker := time.NewTicker(bottleneckInterval)
	defer bottleneckTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatchTicker.C:
			sched.Dispatch(ctx)
		case <-profileTicker.C:
			profiles.PublishStatus(ctx, clock, publisher)
		case <-bottleneckTicker.C:
			for _, opType := range monitor.OperationTypes() {
				stats, ok := monitor.Stats(opType, "")
				if !ok {
					continue
				}
				for _, b := range perf.DetectBottlenecks(opType, stats) {
					if err := perf.PublishBottleneck(ctx, clock, publisher, opType, b); err != nil {
						logger.Warn("failed to publish bottleneck", slog.String("op_type", opType), slog.Any("error", err))
					}
				}
			}
		}
	}
}

func shutdownWithTimeout(name string, logger *slog.Logger, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error("error during shutdown", slog.String("component", name), slog.Any("error", err))
	}
}
