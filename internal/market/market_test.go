package market

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource_LatestPrice(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySource()

	// Nothing published yet
	_, err := s.LatestPrice(ctx, "KRW-BTC")
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	s.SetPrice("KRW-BTC", decimal.NewFromInt(90000))
	price, err := s.LatestPrice(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(90000).Equal(price))

	// Other markets remain unavailable
	_, err = s.LatestPrice(ctx, "KRW-ETH")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestMemorySource_AllTickers(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySource()
	s.SetTicker(Ticker{Market: "KRW-BTC", TradePrice: decimal.NewFromInt(90000)})
	s.SetTicker(Ticker{Market: "KRW-ETH", TradePrice: decimal.NewFromInt(100000)})

	tickers, err := s.AllTickers(ctx)
	require.NoError(t, err)
	assert.Len(t, tickers, 2)
}

// Tickers arrive as JSON published by the market-data pipeline; prices
// must survive the round trip without float drift.
func TestTickerDecode(t *testing.T) {
	raw := `{
		"market": "KRW-BTC",
		"trade_price": 90000000.12345678,
		"signed_change_rate": -0.0123,
		"high_price": 91000000,
		"low_price": 89000000,
		"acc_trade_volume_24h": 1234.5678,
		"timestamp": 1700000000000
	}`

	var tick Ticker
	require.NoError(t, json.Unmarshal([]byte(raw), &tick))
	assert.Equal(t, "KRW-BTC", tick.Market)
	assert.True(t, decimal.RequireFromString("90000000.12345678").Equal(tick.TradePrice),
		"got %s", tick.TradePrice)
	assert.Equal(t, int64(1700000000000), tick.Timestamp)
}
