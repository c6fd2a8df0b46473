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

	"arabiq.org/internal/authz"
	"arabiq.org/internal/config"
	"arabiq.org/internal/httpapi"
	"arabiq.org/internal/obs"
	"arabiq.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cfg.SessionSecret == "" && !cfg.Dev {
		log.Fatal("ARABIQ_SESSION_SECRET is required outside dev mode")
	}

	var (
		store authz.Store
		db    *sql.DB
	)
	switch {
	case cfg.PGDSN != "":
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	case cfg.Dev:
		log.Println("ARABIQ_PG_DSN not set, using in-memory store (dev mode)")
		store = authz.NewInMemory()
	default:
		log.Fatal("ARABIQ_PG_DSN is required outside dev mode")
	}

	auditLog, err := authz.NewAuditLog(store)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	identities, err := authz.NewIdentityService(store, auditLog)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	approvals, err := authz.NewApprovalWorkflow(store, auditLog)
	if err != nil {
		log.Fatalf("approval workflow: %v", err)
	}
	registry, err := authz.NewRoleRegistry(store, auditLog)
	if err != nil {
		log.Fatalf("role registry: %v", err)
	}
	mfa, err := authz.NewMFAGate(store, auditLog)
	if err != nil {
		log.Fatalf("mfa gate: %v", err)
	}

	bootCtx, cancelBoot := context.WithTimeout(ctx, 10*time.Second)
	if err := registry.BootstrapWellKnownRoles(bootCtx); err != nil {
		cancelBoot()
		log.Fatalf("bootstrap roles: %v", err)
	}
	cancelBoot()

	api, err := httpapi.New(httpapi.ReadyProbe{DB: db}, httpapi.Services{
		Identities: identities,
		Approvals:  approvals,
		Registry:   registry,
		MFA:        mfa,
		Audit:      auditLog,
	}, version, httpapi.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting arabiq-authz %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
