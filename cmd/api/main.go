package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"caredesk.org/internal/audit"
	"caredesk.org/internal/config"
	"caredesk.org/internal/gateway"
	"caredesk.org/internal/httpapi"
	"caredesk.org/internal/obs"
	"caredesk.org/internal/profile"
	"caredesk.org/internal/securestore"
	"caredesk.org/internal/session"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load(true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	if cfg.SentryDSN != "" {
		if err := obs.InitSentry(cfg.SentryDSN, cfg.Environment, version); err != nil {
			log.Fatalf("sentry: %v", err)
		}
		defer obs.FlushSentry()
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Audit always reaches the structured log; postgres is added when a
	// DSN is configured.
	sinks := audit.Multi{audit.LogSink{}}
	var profiles profile.Store
	if db != nil {
		sinks = append(sinks, audit.NewPGSink(db))
		profiles = profile.NewPGStore(db)
	}

	store, err := securestore.New(cfg.StoreSecret)
	if err != nil {
		log.Fatalf("secure store: %v", err)
	}

	provider := gateway.NewRemoteProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	gwOpts := []gateway.Option{gateway.WithAuditSink(sinks)}
	if profiles != nil {
		gwOpts = append(gwOpts, gateway.WithProfileStore(profiles))
	}
	gw, err := gateway.New(provider, cfg.StoreSecret, gwOpts...)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctrl, err := session.New(gw, store,
		session.WithAuditSink(sinks),
		session.WithSessionTimeout(cfg.SessionTimeout, cfg.WarningOffset),
		session.WithLoginLimits(cfg.MaxLoginAttempts, cfg.LockoutWindow),
	)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}
	if err := ctrl.Initialize(context.Background()); err != nil {
		obs.Warn("initial session resume failed", map[string]any{"error": err.Error()})
	}
	defer ctrl.Close()

	api := httpapi.New(ctrl, cfg.StoreSecret, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, healthSrv := httpapi.NewGRPCServer()
	grpcLis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	go httpapi.SyncHealth(healthCtx, healthSrv, httpapi.ReadyProbe{DB: db}, 15*time.Second)

	log.Printf("Starting caredesk-api %s on %s (grpc %s)", version, srv.Addr, cfg.GRPCListenAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	cancelHealth()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
