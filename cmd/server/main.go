package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/handoff-hub/handoff-hub/internal/api/http"
	"github.com/handoff-hub/handoff-hub/internal/application/automation"
	"github.com/handoff-hub/handoff-hub/internal/application/disputes"
	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/orchestrator"
	"github.com/handoff-hub/handoff-hub/internal/application/scheduler"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/config"
	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/ledgerstore"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/memory"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/notify"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/postgres"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/pubsub"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/raftledger"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/rules"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, raftNode, cleanup, err := openLedger(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("ledger error: %v", err)
	}
	defer cleanup()

	// typed stores over the ledger
	txStore := ledgerstore.NewTransactionStore(backend)
	trustStore := ledgerstore.NewTrustStore(backend)
	resolutionStore := ledgerstore.NewResolutionStore(backend)

	// observability
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.New(registry)

	// event fan-out
	bus := pubsub.NewBus(logger)

	// automation rules
	ruleSet, err := rules.Load(cfg.RulesPath)
	if err != nil {
		log.Fatalf("rules error: %v", err)
	}
	logger.Info().Int("rules", len(ruleSet)).Str("path", cfg.RulesPath).Msg("automation rules loaded")

	// services
	locks := engine.NewKeyedMutex()
	trustSvc := trustledger.NewService(trustStore, logger)
	engineSvc := engine.NewService(txStore, trustSvc, bus, locks, metrics, logger, engine.Config{
		DefaultWindow:        cfg.ConfirmWindow,
		AutoConfirmThreshold: cfg.AutoConfirmThreshold,
	})
	disputeSvc := disputes.NewService(txStore, resolutionStore, trustSvc, bus, locks, metrics, logger)
	automationSvc := automation.NewService(ruleSet, txStore, trustSvc, engineSvc, bus, metrics, logger, automation.Config{})
	schedulerSvc := scheduler.New(txStore, engineSvc, bus, metrics, logger, scheduler.Config{
		Interval:     cfg.ScanInterval,
		WarnFraction: cfg.WarnFraction,
	})
	orch := orchestrator.New(engineSvc, disputeSvc, trustSvc, automationSvc, schedulerSvc, txStore, logger)

	// notification dispatcher
	dispatcher := notify.NewDispatcher(&notify.LogSender{Logger: logger}, logger)
	notifySub := bus.Subscribe("notify",
		event.TypeTimeoutWarning,
		event.TypeTransactionTimedOut,
		event.TypeTransactionValidated,
		event.TypeDisputeRaised,
		event.TypeDisputeResolved,
	)

	apiServer := httpapi.NewServer(orch, bus, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), []byte(cfg.JWTSecret), logger)
	if raftNode != nil {
		apiServer.EnableRaftAdmin(raftNode)
	}
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := schedulerSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(ctx, notifySub)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}

// openLedger builds the configured ledger backend and returns it with the
// raft node (nil for non-raft backends) and its cleanup func.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledger.Ledger, *raftledger.Node, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory ledger, state is not durable")
		return memory.NewLedger(), nil, func() {}, nil
	case config.BackendRaft:
		node, err := raftledger.NewNode(raftledger.Config{
			NodeID:    cfg.RaftNodeID,
			RaftAddr:  cfg.RaftBindAddr,
			DataDir:   cfg.RaftDataDir,
			Bootstrap: cfg.RaftBootstrap,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.RaftBootstrap {
			leaderCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := node.WaitForLeader(leaderCtx, 500*time.Millisecond)
			cancel()
			if err != nil {
				_ = node.Shutdown()
				return nil, nil, nil, err
			}
		}
		return raftledger.NewLedger(node), node, func() { _ = node.Shutdown() }, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return postgres.NewLedger(pool), nil, func() { pool.Close() }, nil
	}
}
