package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"dough/core"
	"dough/core/events"
	"dough/core/state"
	"dough/observability"
	"dough/observability/logging"
	telemetry "dough/observability/otel"
	"dough/services/doughd/audit"
	"dough/services/doughd/auth"
	"dough/services/doughd/config"
	"dough/services/doughd/keeper"
	"dough/services/doughd/server"
	"dough/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/doughd/config.yaml", "path to doughd configuration file")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("doughd: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	env := cfg.Env
	if env == "" {
		env = strings.TrimSpace(os.Getenv("DOUGH_ENV"))
	}
	logger, closer := logging.SetupWithOptions(logging.Options{
		Service: "doughd",
		Env:     env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	defer closer.Close()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = "doughd"
	telemetryCfg.Environment = env
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := storage.Open(cfg.Storage.Engine, cfg.Storage.Path)
	if err != nil {
		return err
	}
	logger.Info("ledger opened", slog.String("engine", cfg.Storage.Engine), slog.String("path", cfg.Storage.Path))

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		_ = db.Close()
		return err
	}
	if sqlDB, err := auditDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	logger.Info("audit store opened", slog.String("driver", cfg.Audit.Driver), slog.String("dsn", logging.MaskDSN(cfg.Audit.DSN)))

	stream := server.NewBroadcaster(0)

	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		_ = db.Close()
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := core.NewNode(ctx, db, nodeCfg,
		state.WithLogger(logger),
		state.WithEmitter(events.Fanout{stream, observability.Events()}),
		state.WithObserver(observability.Operations().Observe),
	)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer node.Close()
	node.SetLogger(logger)

	auditStore, err := audit.NewStore(auditDB, node.Ledger().Root)
	if err != nil {
		return err
	}
	auditStore.SetLogger(logger.With(slog.String("component", "audit")))
	node.Executor().SetEmitter(events.Fanout{auditStore, stream, observability.Events()})
	logger.Info("protocol ready", slog.String("ledger_root", node.Ledger().Root()))

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		ClockSkew: cfg.Auth.ClockSkew.Duration,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Node:     node,
		Verifier: verifier,
		Audit:    auditStore,
		Stream:   stream,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		FaucetEnabled:  cfg.Faucet.Enabled,
		MaxConnections: cfg.MaxConnections,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Keeper.Enabled {
		k := keeper.New(node.Hub(), common.HexToAddress(cfg.Keeper.Caller), cfg.Keeper.Interval.Duration)
		k.SetLogger(logger.With(slog.String("component", "keeper")))
		g.Go(func() error {
			if err := k.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return srv.Serve(gctx, ln, cfg.Shutdown.Duration)
	})
	err = g.Wait()
	logger.Info("doughd stopped", slog.String("ledger_root", node.Ledger().Root()))
	return err
}
