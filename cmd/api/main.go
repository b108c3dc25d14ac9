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

	"grantd.org/internal/credential"
	"grantd.org/internal/httpapi"
	"grantd.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db    *sql.DB
		store credential.Store
	)
	if dsn := os.Getenv("GRANTD_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = credential.NewPGStore(db)
	} else {
		// No DSN: volatile store for local development.
		store = credential.NewInMemory()
	}

	opts := []credential.Option{}
	if issuer := os.Getenv("GRANTD_ISSUER"); issuer != "" {
		opts = append(opts, credential.WithIssuer(issuer))
	}
	if raw := os.Getenv("GRANTD_MAX_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse GRANTD_MAX_TTL: %v", err)
		}
		opts = append(opts, credential.WithMaxTTL(ttl))
	}
	if raw := os.Getenv("GRANTD_ROTATION_GRACE"); raw != "" {
		grace, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse GRANTD_ROTATION_GRACE: %v", err)
		}
		opts = append(opts, credential.WithRotationGrace(grace))
	}

	svc, err := credential.NewService(store, opts...)
	if err != nil {
		log.Fatalf("credential service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc)

	addr := os.Getenv("GRANTD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting grantd-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
