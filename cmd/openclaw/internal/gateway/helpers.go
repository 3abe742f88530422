package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mingtsay/openclaw/cmd/openclaw/internal"
	"github.com/mingtsay/openclaw/pkg/agent"
	"github.com/mingtsay/openclaw/pkg/audit"
	"github.com/mingtsay/openclaw/pkg/bridge"
	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/channels"
	"github.com/mingtsay/openclaw/pkg/config"
	"github.com/mingtsay/openclaw/pkg/health"
	"github.com/mingtsay/openclaw/pkg/logger"
	"github.com/mingtsay/openclaw/pkg/providers"
)

const shutdownTimeout = 15 * time.Second

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger.Configure(os.Stderr, cfg.Log.Format)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	provider, modelID, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	agentLoop := agent.NewAgentLoop(cfg, msgBus, provider, modelID)
	logger.InfoCF("agent", "Agent initialized", map[string]any{"model": modelID})

	sink := newAuditSink(cfg.Audit)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WarnCF("audit", "Failed to close audit sink", map[string]any{"error": err.Error()})
		}
	}()

	registry := bridge.NewRegistry()
	channelManager, err := channels.NewManager(cfg, msgBus, registry)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	bridgeHandler := bridge.NewHandler("telegram", registry, bridge.NewNegativeCounter(),
		bridge.WithAuditSink(sink))

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	healthServer.AddRoute(bridgeHandler)
	healthServer.RegisterCheck("telegram", func() (bool, string) {
		running, total := channelManager.RunningCount()
		return total == 0 || running > 0, fmt.Sprintf("%d/%d accounts running", running, total)
	})
	healthServer.RegisterCheck("bus", busCheck(msgBus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}
	if bridged := channelManager.BridgedAccounts(); len(bridged) > 0 {
		fmt.Printf("✓ External bridge accepting %s for accounts %s\n", bridgeHandler.Path(), bridged)
	}

	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Gateway started on %s\n", healthServer.Addr())
	fmt.Println("Press Ctrl+C to stop")

	go agentLoop.Run(ctx)
	healthServer.SetReady(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	healthServer.SetReady(false)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	channelManager.StopAll(stopCtx)
	if err := healthServer.Stop(stopCtx); err != nil {
		logger.WarnCF("health", "Health server shutdown", map[string]any{"error": err.Error()})
	}
	agentLoop.Stop()
	cancel()
	fmt.Println("✓ Gateway stopped")

	return nil
}

// newAuditSink connects to the configured broker. Without a URL, or when the
// broker is unreachable, accepted injections are not audited.
func newAuditSink(cfg config.AuditConfig) audit.Sink {
	if cfg.AMQPURL == "" {
		return audit.Nop{}
	}
	sink, err := audit.NewAMQPSink(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		logger.WarnCF("audit", "Audit broker unavailable, continuing without audit", map[string]any{
			"error": err.Error(),
		})
		return audit.Nop{}
	}
	logger.InfoC("audit", "Publishing accepted injections to AMQP")
	return sink
}

// busCheck reports the bus open, with native and injected traffic counts.
func busCheck(mb *bus.MessageBus) health.Check {
	return func() (bool, string) {
		st := mb.Stats()
		return !mb.IsClosed(), fmt.Sprintf("native=%d injected=%d outbound=%d", st.Native, st.Injected, st.Outbound)
	}
}
