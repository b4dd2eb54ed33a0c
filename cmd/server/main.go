package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/cache"
	"github.com/flashsale/checkout-engine/internal/config"
	"github.com/flashsale/checkout-engine/internal/database"
	"github.com/flashsale/checkout-engine/internal/engine"
	"github.com/flashsale/checkout-engine/internal/handler"
	"github.com/flashsale/checkout-engine/internal/lock"
	"github.com/flashsale/checkout-engine/internal/queue"
	"github.com/flashsale/checkout-engine/internal/repository"
	"github.com/flashsale/checkout-engine/internal/router"
	"github.com/flashsale/checkout-engine/internal/service"
	"github.com/flashsale/checkout-engine/internal/store"
	"github.com/flashsale/checkout-engine/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("info: .env not found; using defaults/env")
	}

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: failed to connect: %v", err)
	}

	if err := runMigrations(db, "db/migrations"); err != nil {
		log.Fatalf("database: migration failed: %v", err)
	}

	rdb := config.NewRedisClient()

	st := store.New(db, cfg.TxnMaxAttempts, cfg.DeadlockBackoffMin, cfg.DeadlockBackoffMax)
	stockCache := cache.New(rdb, cfg.StockCacheTTL)
	admission := lock.New(rdb, cfg.AdmissionLockTimeout)

	products := repository.NewProductRepo(db)
	holds := repository.NewHoldRepo(db)
	orders := repository.NewOrderRepo(db)
	webhooks := repository.NewWebhookRepo(db)

	holdEngine := engine.NewHoldEngine(st, holds, products, admission, stockCache, engine.Config{
		MaxHoldQty:     cfg.MaxHoldQty,
		HoldDuration:   cfg.HoldDuration,
		LockTimeout:    cfg.AdmissionLockTimeout,
		LockWait:       cfg.AdmissionLockWait,
		ExpirePageSize: 100,
	})
	publisher := service.NewSettlementPublisher(cfg.RabbitMQURL)
	orderEngine := engine.NewOrderEngine(st, orders, holdEngine, products, stockCache, publisher)
	webhookEngine := engine.NewWebhookEngine(st, webhooks, orderEngine, 100)

	sw := sweeper.New(holdEngine, webhookEngine, admission, cfg.SweepPeriod)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sw.Run(sweepCtx)
	go queue.StartSettlementConsumer(cfg.RabbitMQURL)

	e := echo.New()
	router.RegisterRoutes(e, router.Handlers{
		Health:  handler.NewHealthHandler(sw),
		Product: handler.NewProductHandler(products, holds, stockCache),
		Hold:    handler.NewHoldHandler(holdEngine),
		Order:   handler.NewOrderHandler(orderEngine),
		Webhook: handler.NewWebhookHandler(webhookEngine),
	})

	go func() {
		addr := ":" + cfg.Port
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil {
			log.Printf("server: stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AdmissionLockTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown error: %v", err)
	}
}

// runMigrations applies pending schema migrations read from dir on disk
// through the file:// source, treating "no pending migrations" as
// success.
func runMigrations(db *sql.DB, dir string) error {
	driver, err := mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "mysql", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
