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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"RimValidator/internal/config"
	"RimValidator/internal/logging"
	"RimValidator/internal/metrics"
	"RimValidator/internal/notifier"
	"RimValidator/internal/recorder"
	"RimValidator/internal/scheduler"
	"RimValidator/internal/store"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}
	pol, err := cfg.BuildPolicy()
	if err != nil {
		log.Fatalf("[FATAL] build policy: %v", err)
	}

	zl, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("[FATAL] init logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	logger := zl.Sugar()
	logger.Infow("RimValidator starting", "store", cfg.Store.Driver, "interval", cfg.Schedule.TickInterval)

	// Init store
	var st store.AccountStore
	switch cfg.Store.Driver {
	case "memory":
		if cfg.Store.Fixture == "" {
			st = store.NewMemoryStore()
			logger.Warn("memory store has no fixture, ticks will evaluate no accounts")
		} else {
			ms, err := store.LoadMemoryStore(cfg.Store.Fixture)
			if err != nil {
				logger.Fatalw("load memory store fixture", "path", cfg.Store.Fixture, "error", err)
			}
			st = ms
		}
		logger.Warn("memory store selected, balances are not persisted")
	default:
		st = store.NewSupabaseStore(cfg.Store.URL, cfg.Store.Key, cfg.Store.Table, cfg.Proxy, cfg.Store.Timeout)
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logger)
		if err != nil {
			logger.Warnw("init sqlite recorder failed, using noop", "error", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tm := metrics.NewTickMetrics(cfg.Metrics.Namespace, reg)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []scheduler.Option{scheduler.WithInterval(cfg.Schedule.TickInterval)}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		opts = append(opts, scheduler.WithNotifier(tn))
	}
	sched := scheduler.NewScheduler(st, pol, rec, tm, logger, opts...)

	if cfg.RunOnce {
		report := sched.RunTick(ctx)
		if report.Err != nil {
			logger.Errorw("single tick failed", "error", report.Err)
			rec.Close()
			zl.Sync() //nolint:errcheck
			os.Exit(1)
		}
		logger.Infow("single tick done", "accounts", report.Accounts, "paid", report.Paid())
		return
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go serveMetrics(srv, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := sched.RegisterReport(ctx, cfg.Schedule.ReportCron); err != nil {
		logger.Fatalw("register report task", "error", err)
	}
	if err := sched.RegisterPrune(cfg.Schedule.PruneCron, cfg.Database.Retention); err != nil {
		logger.Fatalw("register prune task", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	logger.Info("RimValidator is running. Press Ctrl+C to stop.")
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("validator loop exited", "error", err)
	}
	logger.Info("RimValidator stopped")
}

func serveMetrics(srv *http.Server, logger *zap.SugaredLogger) {
	logger.Infow("metrics server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("metrics server failed", "error", err)
	}
}
