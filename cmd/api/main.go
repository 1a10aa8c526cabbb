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

	"marketcall/internal/audit"
	"marketcall/internal/auth"
	"marketcall/internal/callback"
	"marketcall/internal/config"
	"marketcall/internal/httpapi"
	"marketcall/internal/invoice"
	"marketcall/internal/media"
	"marketcall/internal/signaling"
	"marketcall/pkg/logger"
	"marketcall/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PoolConfig{StatementTimeout: 10 * time.Second})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	schema := append([]string{callback.Schema, audit.Schema}, invoice.Schema...)
	if err := utils.ApplySchema(rootCtx, db, schema...); err != nil {
		log.Error("schema apply failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	issuer, err := media.NewTokenIssuer(cfg.Media)
	if err != nil {
		log.Error("media init failed", "err", err)
		os.Exit(1)
	}

	registry := signaling.NewRedisRegistry(rdb, signaling.DefaultRegistryTTL)
	hub := signaling.NewHub(registry, rdb, logger.Component(log, "signaling"))
	go func() {
		if err := hub.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("signaling relay stopped", "err", err)
			stop()
		}
	}()

	invoiceRepo := invoice.NewPostgresRepo(db)
	janitor, err := invoice.NewJanitor(invoiceRepo, cfg.Jobs.InvoicePurgeSchedule, cfg.Jobs.InvoiceRetention, log)
	if err != nil {
		log.Error("janitor init failed", "err", err)
		os.Exit(1)
	}
	janitor.Start()

	h := httpapi.Handlers{
		Auth:      authManager,
		Invoices:  invoice.NewService(invoiceRepo, registry, hub, invoice.WithLogger(log)),
		Callbacks: callback.NewService(callback.NewPostgresRepo(db), clock.New(), log),
		Media:     issuer,
		Calls:     registry,
		Audit:     audit.NewService(audit.NewPostgresRepo(db), log),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.ClientIP())

	registerRoutes(r, routeDeps{
		handlers: h,
		authMW:   auth.RequireAccessToken(authManager),
		hub:      hub,
		rdb:      rdb,
		apiLimit: cfg.App.RateLimitPerMinute,
		ready:    func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Signaling sockets are hijacked, so WriteTimeout only bounds plain responses.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	janitor.Stop(shutdownCtx)
}
