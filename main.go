package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delta-core/internal/account"
	"delta-core/internal/api"
	"delta-core/internal/clientauth"
	"delta-core/internal/events"
	"delta-core/internal/sentiment"
	"delta-core/internal/strategy"
	"delta-core/internal/trading"
	"delta-core/pkg/cache"
	"delta-core/pkg/config"
	"delta-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config load failed: %v", err)
	}
	log.Printf("[main] starting delta-core on port %s (exchange %s)", cfg.Port, cfg.DeltaBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[main] database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[main] database migrations failed: %v", err)
	}
	store := db.NewStore(database.DB)

	bus := events.NewBus()

	ttlCache := cache.NewShardedTTLCache()
	janitorStop := make(chan struct{})
	ttlCache.StartJanitor(time.Minute, janitorStop)
	defer close(janitorStop)

	clients := clientauth.NewStore(cfg.ClientsCSVPath)
	log.Printf("[main] client whitelist loaded: %d entries", clients.Count())

	defaults, err := strategy.LoadDefaults(cfg.StrategyDefaultsPath)
	if err != nil {
		log.Fatalf("[main] strategy defaults load failed: %v", err)
	}
	if err := strategy.SyncDefaultsToStore(ctx, store, defaults); err != nil {
		log.Printf("[main] strategy defaults sync failed: %v", err)
	}

	tradingSvc := trading.NewService(store, bus)
	accounts := account.NewService()
	manager := strategy.NewManager(strategy.Deps{
		Orders: tradingSvc,
		Bus:    bus,
	}, store, bus)
	sentimentSvc := sentiment.NewFetcher(ttlCache, cfg.SentimentTTL)

	server := api.NewServer(cfg, bus, store, clients, tradingSvc, accounts, manager, sentimentSvc, ttlCache, defaults)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Printf("[main] api server error: %v", err)
	case sig := <-sigChan:
		log.Printf("[main] received %s, shutting down", sig)
	}

	// Strategies cancel their working orders on stop; do that before the
	// database goes away.
	manager.StopAll()
	cancel()
	log.Println("[main] shutdown complete")
}
