package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"inapp-token-ledger/internal/application"
	"inapp-token-ledger/internal/config"
	"inapp-token-ledger/internal/infra/api"
	"inapp-token-ledger/internal/infra/api/apiv1"
	"inapp-token-ledger/internal/infra/db/migrations"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/metrics"
	"inapp-token-ledger/internal/infra/sched"
	"inapp-token-ledger/internal/infra/security"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, sandbox store)")
	migrate := flag.Bool("migrate", true, "apply database migrations on startup")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("DEV MODE enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrate {
		db, err := migrations.OpenDB(cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db for migrations")
		}
		if err := migrations.Up(db); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		_ = db.Close()
	}

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}
	defer app.Close()

	v1 := apiv1.NewServer(app.Balance, app.Ledger, app.Purchase, app.Subscription, app.Refill, app.Tokens, logger)
	if cfg.HTTP.AuthSecret != "" {
		issuer, err := security.NewTokenIssuer(cfg.HTTP.AuthSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("auth")
		}
		v1.WithAuth(issuer)
	} else {
		logger.Warn().Msg("http.auth_secret not set; API accepts unauthenticated requests")
	}
	srv := api.NewServer(cfg.HTTP.Port, api.NewRouter(v1, app.Pool, cfg.HTTP.RequestTimeout, logger), logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	workers := []interface{ Run(context.Context) error }{
		sched.NewRefillWorker(cfg.Refill.Interval, cfg.Tokens.DailyRefillHourUTC, app.Refill, app.Clock, logger),
		sched.NewRenewalWorker(cfg.Scheduler.RenewalInterval, cfg.Refill.BatchSize, app.Subscription, logger),
		sched.NewOrderSweeper(app.Purchase, cfg.Scheduler.OrderSweepInterval, cfg.Scheduler.OrderStaleAfter, logger),
		sched.NewPoolStatsReporter(app.Pool, 15*time.Second),
	}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w interface{ Run(context.Context) error }) {
			defer wg.Done()
			_ = w.Run(ctx)
		}(w)
	}

	logger.Info().Str("version", version).Int("port", cfg.HTTP.Port).Msg("token ledger started")
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	logger.Info().Msg("shutdown complete")
}
