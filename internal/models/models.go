package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Order sides and types
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeLimit  = "limit"
	TypeMarket = "market"
)

// Order lifecycle states. An order starts open and ends in exactly one
// of filled or cancelled; terminal states are never left.
const (
	StateOpen      = "open"
	StateFilled    = "filled"
	StateCancelled = "cancelled"
)

// Balance is the per-(user, currency) ledger row. Available funds are
// Total minus Locked; Locked never exceeds Total. AvgCost is the
// volume-weighted acquisition price, tracked for base assets only.
type Balance struct {
	UserID   int             `json:"user_id"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// Available returns the portion of the balance not reserved by open orders.
func (b *Balance) Available() decimal.Decimal {
	return b.Total.Sub(b.Locked)
}

// Order represents a buy or sell order. Price is set only for limit
// orders; market orders resolve their execution price at execution time.
type Order struct {
	ID              string          `json:"id"`
	UserID          int             `json:"user_id"`
	Market          string          `json:"market"`
	Side            string          `json:"side"`
	Type            string          `json:"ord_type"`
	Price           decimal.Decimal `json:"price"`
	Volume          decimal.Decimal `json:"volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	State           string          `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Trade represents a single execution. Append-only; one trade per order
// under the all-or-nothing fill policy.
type Trade struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	UserID    int             `json:"user_id"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Funds     decimal.Decimal `json:"funds"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

// CashTransaction records a quote-currency deposit or withdrawal.
type CashTransaction struct {
	ID        int             `json:"id"`
	UserID    int             `json:"user_id"`
	Type      string          `json:"type"` // "deposit" or "withdraw"
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarketPair is a parsed market symbol: the quote (funding) currency and
// the base asset, e.g. "KRW-BTC" -> {Quote: KRW, Base: BTC}.
type MarketPair struct {
	Quote string
	Base  string
}

// ParseMarket splits a "QUOTE-BASE" symbol into its currency pair.
func ParseMarket(symbol string) (MarketPair, error) {
	quote, base, ok := strings.Cut(symbol, "-")
	if !ok || quote == "" || base == "" {
		return MarketPair{}, fmt.Errorf("invalid market symbol %q", symbol)
	}
	return MarketPair{Quote: quote, Base: base}, nil
}

// Symbol reassembles the market symbol string.
func (m MarketPair) Symbol() string {
	return m.Quote + "-" + m.Base
}
