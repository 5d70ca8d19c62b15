// main.go — media gate entrypoint.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adschi/mediagate"
	"github.com/adschi/mediagate/internal/auth"
	"github.com/adschi/mediagate/internal/config"
	"github.com/adschi/mediagate/internal/devices"
	"github.com/adschi/mediagate/internal/logger"
	"github.com/adschi/mediagate/internal/ratelimit"
	"github.com/adschi/mediagate/pkg/telemetry"

	_ "github.com/lib/pq"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, version); err != nil {
		log.Warn("sentry init failed", "error", err)
	}
	defer telemetry.Flush()

	opts := mediagate.Options{Logger: log}

	// Postgres is optional: without it device state is node-local.
	if cfg.PostgresURL != "" {
		db, err := openDB(cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts.Store = devices.NewPostgresStore(db)
	}

	// Redis is optional: without it rate limits are off and session
	// revocation is node-local.
	if cfg.RedisURL != "" {
		ropt, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis url invalid", "error", err)
			os.Exit(1)
		}
		rdb := goredis.NewClient(ropt)
		defer rdb.Close()
		opts.Limiter = ratelimit.New(ratelimit.NewRedisStore(rdb), ratelimit.DefaultConfig())
		opts.ActiveStore = auth.NewRedisActiveStore(rdb)
	} else {
		opts.ActiveStore = auth.NewMemoryActiveStore()
	}

	srv, err := mediagate.NewServer(cfg, opts)
	if err != nil {
		log.Error("server init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Devices idle for 90 days drop out of the registry.
	go srv.Registry().ReapLoop(ctx, time.Hour, 90*24*time.Hour)

	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db, db.PingContext(ctx)
}
