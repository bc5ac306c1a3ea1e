package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/metrics"
)

// AssetPriceRepository defines the asset price update the consumer
// needs from the database.
type AssetPriceRepository interface {
	UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error
}

// PriceCache is the optional Redis-backed quote cache.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ttl time.Duration) error
}

// PriceEvent represents a price update from the market-data feed.
// Prices are the engine's only external input; applying one never
// touches cash balances.
type PriceEvent struct {
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	Data      PriceEventData `json:"data"`
}

// PriceEventData carries one symbol's quote. Price is a string so the
// feed never forces float parsing on us.
type PriceEventData struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// PricesConsumer applies market-data price updates to the assets table
// and the quote cache.
type PricesConsumer struct {
	reader   *kafka.Reader
	repo     AssetPriceRepository
	cache    PriceCache
	cacheTTL time.Duration
}

// NewPricesConsumer creates a Kafka consumer for price update events.
// cache may be nil; price updates then go to the database only.
func NewPricesConsumer(brokers []string, topic, groupID string, repo AssetPriceRepository, cache PriceCache) *PricesConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-prices",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset, // only fresh quotes matter
		CommitInterval: time.Second,
	})

	return &PricesConsumer{
		reader:   reader,
		repo:     repo,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
	}
}

// Start begins consuming messages from Kafka.
func (c *PricesConsumer) Start(ctx context.Context) error {
	log.Printf("Starting prices consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Prices consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading price message: %v", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				log.Printf("Error processing price message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message.
func (c *PricesConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event PriceEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal price event: %w", err)
	}

	if event.EventType != "PRICE_UPDATED" {
		log.Printf("Ignoring unknown price event type: %s", event.EventType)
		return nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(event.Data.Symbol))
	if symbol == "" {
		return fmt.Errorf("price event missing symbol")
	}
	price, err := decimal.NewFromString(event.Data.Price)
	if err != nil {
		return fmt.Errorf("invalid price %q for %s: %w", event.Data.Price, symbol, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("non-positive price %s for %s", price, symbol)
	}

	at := time.Now()
	if ts, err := time.Parse(time.RFC3339, event.Timestamp); err == nil {
		at = ts
	}

	if err := c.repo.UpdateAssetPrice(ctx, symbol, price, at); err != nil {
		return fmt.Errorf("failed to apply price for %s: %w", symbol, err)
	}
	metrics.PriceUpdates.Inc()

	if c.cache != nil {
		if err := c.cache.SetPrice(ctx, symbol, price, c.cacheTTL); err != nil {
			log.Printf("Warning: failed to cache price for %s: %v", symbol, err)
		}
	}

	log.Printf("Applied price update: %s = %s", symbol, price)
	return nil
}

// Close closes the Kafka consumer.
func (c *PricesConsumer) Close() error {
	return c.reader.Close()
}
