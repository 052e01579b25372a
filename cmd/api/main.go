package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"verigate.io/internal/auth"
	"verigate.io/internal/config"
	"verigate.io/internal/httpapi"
	"verigate.io/internal/obs"
	"verigate.io/internal/provider"
	"verigate.io/internal/ratelimit"
	"verigate.io/internal/verify"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("VERIGATE_COMMIT"))

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *sql.DB
		authStore auth.Store
		rateStore ratelimit.Store
		provStore provider.Store
		sessStore verify.Store
	)
	if cfg.DB.DSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

		authStore = auth.NewPGStore(db)
		rateStore = ratelimit.NewPGStore(db)
		provStore = provider.NewPGStore(db)
		sessStore = verify.NewPGStore(db)
	} else {
		log.Println("VERIGATE_PG_DSN not set, using in-memory stores (development only)")
		authStore = auth.NewMemoryStore()
		rateStore = ratelimit.NewMemoryStore()
		provStore = provider.NewMemoryStore()
		sessStore = verify.NewMemoryStore()
	}

	authSvc, err := auth.NewService(authStore,
		auth.WithSecret(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	limiter := ratelimit.New(rateStore)
	limiter.StartSweeper(ctx, cfg.Limits.SweepInterval, cfg.Limits.Retention)

	registry := provider.NewRegistry(provStore)
	registry.Register(provider.NewMockAdapter("mock", provider.ModeMultiStep, cfg.Session.WebhookSecret, 3))

	orch := verify.NewOrchestrator(sessStore, limiter, registry,
		verify.WithSessionTTL(cfg.Session.TTL))
	orch.StartSweeper(ctx, cfg.Session.SweepInterval)

	if db == nil {
		if err := bootstrapDev(ctx, authSvc, provStore); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, authSvc, orch, registry,
		httpapi.WithFloodGuard(cfg.Server.FloodBurst, cfg.Server.FloodPerSecond))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting verigate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// bootstrapDev seeds an admin principal, an admin API key and the mock
// provider so a fresh in-memory instance is usable immediately. The key
// plaintext is printed once and never stored.
func bootstrapDev(ctx context.Context, authSvc *auth.Service, provStore provider.Store) error {
	admin := &auth.Principal{
		Kind:   auth.KindAdmin,
		Name:   "dev-admin",
		Status: auth.StatusActive,
	}
	if err := authSvc.CreatePrincipal(ctx, admin, "dev-admin-password"); err != nil {
		return err
	}
	_, plaintext, err := authSvc.CreateAPIKey(ctx, admin.ID, "dev-admin-key", 0)
	if err != nil {
		return err
	}
	log.Printf("dev admin principal %s, X-Admin-API-Key: %s", admin.ID, plaintext)

	return provStore.Upsert(ctx, &provider.Provider{
		Name:              "mock",
		Type:              "mock",
		SupportsTemplates: true,
		SupportsAsync:     true,
		SupportsIDVerify:  true,
		ProcessingMode:    provider.ModeMultiStep,
		IsActive:          true,
		Priority:          100,
	})
}
