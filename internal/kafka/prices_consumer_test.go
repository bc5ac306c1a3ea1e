package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPriceRepo struct {
	mu      sync.Mutex
	updates map[string]decimal.Decimal
	err     error
}

func newMockPriceRepo() *mockPriceRepo {
	return &mockPriceRepo{updates: make(map[string]decimal.Decimal)}
}

func (m *mockPriceRepo) UpdateAssetPrice(_ context.Context, symbol string, price decimal.Decimal, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.updates[symbol] = price
	return nil
}

type mockPriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func newMockPriceCache() *mockPriceCache {
	return &mockPriceCache{prices: make(map[string]decimal.Decimal)}
}

func (m *mockPriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.prices[symbol] = price
	return nil
}

func priceMessage(body string) kafka.Message {
	return kafka.Message{Value: []byte(body)}
}

func TestProcessMessagePriceUpdated(t *testing.T) {
	repo := newMockPriceRepo()
	cache := newMockPriceCache()
	consumer := &PricesConsumer{repo: repo, cache: cache, cacheTTL: time.Minute}

	msg := priceMessage(`{
		"event_type": "PRICE_UPDATED",
		"source": "market-data-service",
		"timestamp": "2026-02-01T15:30:00Z",
		"data": {"symbol": "aapl", "price": "175.25"}
	}`)
	err := consumer.processMessage(context.Background(), msg)
	require.NoError(t, err)

	// Symbol is normalized, price hits both the database and the cache.
	price, ok := repo.updates["AAPL"]
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("175.25")))
	cached, ok := cache.prices["AAPL"]
	require.True(t, ok)
	assert.True(t, cached.Equal(price))
}

func TestProcessMessageIgnoresOtherEventTypes(t *testing.T) {
	repo := newMockPriceRepo()
	consumer := &PricesConsumer{repo: repo}

	msg := priceMessage(`{"event_type": "SYMBOL_DELISTED", "data": {"symbol": "AAPL"}}`)
	err := consumer.processMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, repo.updates)
}

func TestProcessMessageRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing symbol", `{"event_type": "PRICE_UPDATED", "data": {"price": "10"}}`},
		{"unparseable price", `{"event_type": "PRICE_UPDATED", "data": {"symbol": "AAPL", "price": "ten"}}`},
		{"zero price", `{"event_type": "PRICE_UPDATED", "data": {"symbol": "AAPL", "price": "0"}}`},
		{"negative price", `{"event_type": "PRICE_UPDATED", "data": {"symbol": "AAPL", "price": "-5"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockPriceRepo()
			consumer := &PricesConsumer{repo: repo}
			err := consumer.processMessage(context.Background(), priceMessage(tt.body))
			assert.Error(t, err)
			assert.Empty(t, repo.updates)
		})
	}
}

func TestProcessMessageRepoErrorPropagates(t *testing.T) {
	repo := newMockPriceRepo()
	repo.err = assert.AnError
	consumer := &PricesConsumer{repo: repo}

	msg := priceMessage(`{"event_type": "PRICE_UPDATED", "data": {"symbol": "AAPL", "price": "10"}}`)
	err := consumer.processMessage(context.Background(), msg)
	assert.Error(t, err)
}

func TestProcessMessageCacheFailureIsNotFatal(t *testing.T) {
	repo := newMockPriceRepo()
	cache := newMockPriceCache()
	cache.err = assert.AnError
	consumer := &PricesConsumer{repo: repo, cache: cache, cacheTTL: time.Minute}

	msg := priceMessage(`{"event_type": "PRICE_UPDATED", "data": {"symbol": "AAPL", "price": "10"}}`)
	err := consumer.processMessage(context.Background(), msg)
	// The database is authoritative; a cache miss is only logged.
	assert.NoError(t, err)
	assert.Contains(t, repo.updates, "AAPL")
}

func TestProcessMessageWithoutCache(t *testing.T) {
	repo := newMockPriceRepo()
	consumer := &PricesConsumer{repo: repo}

	msg := priceMessage(`{"event_type": "PRICE_UPDATED", "data": {"symbol": "VTI", "price": "260.50"}}`)
	err := consumer.processMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Contains(t, repo.updates, "VTI")
}
