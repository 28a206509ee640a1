package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/backend/internal/api/handler"
	"parley/backend/internal/chathub"
	"parley/backend/internal/config"
	"parley/backend/internal/directory"
	"parley/backend/internal/fanout"
	"parley/backend/internal/identity"
	"parley/backend/internal/ledger"
	"parley/backend/internal/presence"
	"parley/backend/internal/storage"

	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server error.
func run() error {
	// 1. Configuration & Logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	// 2. PostgreSQL
	db, err := storage.Open(postgres.Open(cfg.DatabaseDSN), logger.Warn)
	if err != nil {
		return fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing database...")
		_ = sqlDB.Close()
	}()
	if err := storage.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	store := storage.NewStorageService(db)

	// 3. Services
	ids := identity.NewService(store, cfg.JWTSecret, cfg.TokenTTL, cfg.SearchLimit, log)
	dir := directory.NewService(store, ids, log)
	led := ledger.NewService(store, dir, ids, log)

	router := presence.NewRouter(log)
	engine := fanout.NewEngine(router, cfg.SessionSendTimeout, log)
	if cfg.ServerSideFanout {
		led.SetAnnouncer(engine)
	}
	hub := chathub.NewManagerService(router, engine, led, cfg.ServerSideFanout, log)

	// 4. Redis relay, only when several instances share the load
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect Redis: %w", err)
		}

		relay := chathub.NewRedisRelay(rdb, cfg.RedisChannel, engine, log)
		engine.SetRelay(relay)
		hub.SetRelay(relay)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	go func() {
		if err := hub.Run(ctx); err != nil {
			errChan <- fmt.Errorf("relay stopped: %w", err)
		}
	}()

	// 6. HTTP server
	h := handler.NewHandler(ids, dir, led, hub, cfg.IsProduction(), log)
	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        h.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		log.Info("Starting HTTP server", "address", cfg.HTTPAddr, "server_side_fanout", cfg.ServerSideFanout, "relay", cfg.RedisAddr != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	engine.Wait()
	log.Info("Server stopped cleanly")
	return nil
}
