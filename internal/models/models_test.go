package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseMarket(t *testing.T) {
	tests := []struct {
		name        string
		symbol      string
		expectQuote string
		expectBase  string
		expectError bool
	}{
		{
			name:        "Valid",
			symbol:      "KRW-BTC",
			expectQuote: "KRW",
			expectBase:  "BTC",
		},
		{
			name:        "ValidOther",
			symbol:      "USDT-ETH",
			expectQuote: "USDT",
			expectBase:  "ETH",
		},
		{
			name:        "NoSeparator",
			symbol:      "KRWBTC",
			expectError: true,
		},
		{
			name:        "EmptyBase",
			symbol:      "KRW-",
			expectError: true,
		},
		{
			name:        "EmptyQuote",
			symbol:      "-BTC",
			expectError: true,
		},
		{
			name:        "Empty",
			symbol:      "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := ParseMarket(tt.symbol)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expectQuote, pair.Quote)
			assert.Equal(t, tt.expectBase, pair.Base)
			assert.Equal(t, tt.symbol, pair.Symbol())
		})
	}
}

func TestBalanceAvailable(t *testing.T) {
	b := Balance{
		Total:  decimal.NewFromInt(100000),
		Locked: decimal.NewFromInt(90045),
	}
	assert.True(t, decimal.NewFromInt(9955).Equal(b.Available()))

	b.Locked = decimal.Zero
	assert.True(t, b.Total.Equal(b.Available()))
}
