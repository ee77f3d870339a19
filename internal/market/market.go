package market

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no reference price has been
// observed yet for a market. Callers skip the affected order; the
// condition is transient, not a hard failure.
var ErrPriceUnavailable = errors.New("reference price unavailable")

// Ticker is the latest externally observed market data for a symbol, as
// published by the ingestion pipeline.
type Ticker struct {
	Market           string          `json:"market"`
	TradePrice       decimal.Decimal `json:"trade_price"`
	SignedChangeRate float64         `json:"signed_change_rate"`
	HighPrice        decimal.Decimal `json:"high_price"`
	LowPrice         decimal.Decimal `json:"low_price"`
	AccTradeVolume   decimal.Decimal `json:"acc_trade_volume_24h"`
	Timestamp        int64           `json:"timestamp"`
}

// PriceSource exposes the latest observed trade price per market. The
// engine and scanner only ever read from it.
type PriceSource interface {
	// LatestPrice returns the most recent trade price for the market,
	// or ErrPriceUnavailable if none has been observed.
	LatestPrice(ctx context.Context, market string) (decimal.Decimal, error)
}

// MemorySource is an in-process PriceSource, used in tests and as a
// fallback when Redis is not configured.
type MemorySource struct {
	mu      sync.RWMutex
	tickers map[string]Ticker
}

func NewMemorySource() *MemorySource {
	return &MemorySource{tickers: make(map[string]Ticker)}
}

// SetPrice records the latest trade price for a market.
func (s *MemorySource) SetPrice(market string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tickers[market]
	t.Market = market
	t.TradePrice = price
	s.tickers[market] = t
}

// SetTicker stores a full ticker.
func (s *MemorySource) SetTicker(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.Market] = t
}

func (s *MemorySource) LatestPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[market]
	if !ok || t.TradePrice.IsZero() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return t.TradePrice, nil
}

func (s *MemorySource) AllTickers(ctx context.Context) ([]Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tickers := make([]Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		tickers = append(tickers, t)
	}
	return tickers, nil
}
