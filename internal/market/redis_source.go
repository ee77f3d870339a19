package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// tickersKey is the Redis hash the market-data pipeline writes tickers
// into, one field per market symbol holding a JSON ticker.
const tickersKey = "tickers"

// RedisSource reads reference prices from the Redis hash maintained by
// the external market-data pipeline.
type RedisSource struct {
	client *redis.Client
}

func NewRedisSource(addr, password string, db int) *RedisSource {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSource{client: rdb}
}

// NewRedisSourceFromClient wraps an existing client (used in tests).
func NewRedisSourceFromClient(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) LatestPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	b, err := s.client.HGet(ctx, tickersKey, market).Bytes()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ErrPriceUnavailable
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis ticker lookup: %w", err)
	}

	var t Ticker
	if err := json.Unmarshal(b, &t); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker for %s: %w", market, err)
	}
	if t.TradePrice.IsZero() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return t.TradePrice, nil
}

// AllTickers returns every ticker currently published. Entries that fail
// to decode are skipped.
func (s *RedisSource) AllTickers(ctx context.Context) ([]Ticker, error) {
	data, err := s.client.HGetAll(ctx, tickersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis tickers lookup: %w", err)
	}

	tickers := make([]Ticker, 0, len(data))
	for _, raw := range data {
		var t Ticker
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}
