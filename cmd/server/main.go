package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/investmentclub/treasury/internal/api"
	"github.com/investmentclub/treasury/internal/config"
	"github.com/investmentclub/treasury/internal/database"
	"github.com/investmentclub/treasury/internal/engine"
	"github.com/investmentclub/treasury/internal/kafka"
	"github.com/investmentclub/treasury/internal/redis"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.Database.ConnectionString()); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Println("Connected to PostgreSQL database")

	// Connect to Redis (optional quote cache)
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v (continuing without cache)", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Connected to Redis cache")
	}

	// Create Kafka producer for ledger events
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.LedgerTopic)
	defer producer.Close()
	log.Printf("Kafka producer initialized (brokers: %v, topic: %s)",
		cfg.Kafka.Brokers, cfg.Kafka.LedgerTopic)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create and start Kafka consumer for market-data price updates
	var priceCache kafka.PriceCache
	if redisClient != nil {
		priceCache = redisClient
	}
	pricesConsumer := kafka.NewPricesConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.PricesTopic,
		cfg.Kafka.ConsumerGroup,
		db,
		priceCache,
	)
	go func() {
		log.Printf("Starting Kafka prices consumer for topic: %s (group: %s-prices)",
			cfg.Kafka.PricesTopic, cfg.Kafka.ConsumerGroup)
		if err := pricesConsumer.Start(ctx); err != nil {
			log.Printf("Kafka prices consumer error: %v", err)
		}
	}()

	// The engine is the single write path to club state
	eng := engine.New(db)

	// Set up HTTP handler and routes
	handler := api.NewHandler(eng, db, producer, redisClient)
	router := api.SetupRoutes(handler)

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Cancel context to stop Kafka consumer
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Close Kafka consumer
	if err := pricesConsumer.Close(); err != nil {
		log.Printf("Error closing Kafka prices consumer: %v", err)
	}

	log.Println("Server stopped")
}

func runMigrations(databaseUrl string) error {
	// The "file://" prefix tells the migrate library to use the file driver
	m, err := migrate.New("file://./db/migrations", databaseUrl)
	if err != nil {
		return err
	}

	// Apply all available migrations up to the latest version
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}
