package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sales-call-pipeline/internal/audit"
	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/internal/config"
	"sales-call-pipeline/internal/httpapi"
	"sales-call-pipeline/internal/pipeline"
	"sales-call-pipeline/internal/reporting"
	"sales-call-pipeline/migrations"
	"sales-call-pipeline/pkg/logger"
	"sales-call-pipeline/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		store     calls.Store      = calls.NewMemoryRepo()
		auditRepo audit.Repository = audit.NewMemoryRepo()
		db        *sql.DB
	)
	if cfg.Store.Driver == "postgres" {
		var err error
		db, err = utils.OpenPostgres(ctx, utils.PostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.Up(ctx, db); err != nil {
			return err
		}
		store = calls.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	}

	var (
		guard pipeline.Guard = pipeline.NewMemoryGuard()
		rdb   *redis.Client
	)
	if cfg.Pipeline.GuardDriver == "redis" {
		var err error
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return err
		}
		defer rdb.Close()

		guard = pipeline.NewRedisGuard(utils.NewLocker(rdb), cfg.Pipeline.LockTTL)
		if cfg.Pipeline.MaxConcurrent > 0 {
			guard = pipeline.NewCappedGuard(guard, rdb, cfg.Pipeline.MaxConcurrent, cfg.Pipeline.LockTTL)
		}
	}

	audioStore, err := newAudioStorage(ctx, cfg)
	if err != nil {
		return err
	}
	prov, err := newProviders(ctx, cfg, audioStore)
	if err != nil {
		return err
	}
	defer prov.close()

	auditSvc := audit.NewService(auditRepo)
	h := httpapi.Handlers{
		Calls: calls.NewService(store),
		Pipeline: pipeline.NewService(store, prov.transcriber, prov.analyzer, prov.crm,
			pipeline.WithGuard(guard),
			pipeline.WithAudit(auditSvc),
			pipeline.WithProviderTimeout(cfg.Pipeline.ProviderTimeout),
		),
		Audit:   auditSvc,
		Reports: reporting.NewService(store),
		Audio:   audioStore,
	}

	r := newRouter(cfg, log, h, healthChecks{db: db, rdb: rdb})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      3*cfg.Pipeline.ProviderTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"store", cfg.Store.Driver, "guard", cfg.Pipeline.GuardDriver,
			"transcription", prov.transcriber.Name(), "analysis", prov.analyzer.Name(), "crm", prov.crm.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
			return err
		}
		return nil
	})
	return g.Wait()
}
