package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/xtrntr/cointrader/internal/db"
	"github.com/xtrntr/cointrader/internal/market"
	"github.com/xtrntr/cointrader/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// feeScale is the number of decimal places fees are truncated to at the
// point of computation. Using the same truncation for locking, release
// and debit keeps the lock/unlock round trip loss-free.
const feeScale = 8

// Engine accepts order requests, reserves funds, executes orders against
// a reference price and applies the resulting ledger mutations
// atomically. Every mutation runs in a single transaction with row locks
// scoped to the order and the touched (user, currency) balances.
type Engine struct {
	db            *db.DB
	prices        market.PriceSource
	feeRate       decimal.Decimal
	quoteCurrency string
}

// New creates an engine. feeRate is the multiplicative trading fee
// (e.g. 0.0005 for 0.05%); quoteCurrency is the funding currency used
// for deposits and withdrawals.
func New(database *db.DB, prices market.PriceSource, feeRate decimal.Decimal, quoteCurrency string) *Engine {
	return &Engine{
		db:            database,
		prices:        prices,
		feeRate:       feeRate,
		quoteCurrency: quoteCurrency,
	}
}

// PlaceOrderParams carries a validated-at-the-edge order request.
type PlaceOrderParams struct {
	UserID int
	Market string
	Side   string
	Type   string
	Price  decimal.Decimal // limit orders only; ignored for market orders
	Volume decimal.Decimal
}

// PlaceOrder validates the request, locks the required funds and creates
// the order in state open, all atomically. Market orders are executed
// against the current reference price before returning.
func (e *Engine) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*models.Order, error) {
	if p.Side != models.SideBuy && p.Side != models.SideSell {
		return nil, fmt.Errorf("%w: side must be %q or %q", ErrValidation, models.SideBuy, models.SideSell)
	}
	if p.Type != models.TypeLimit && p.Type != models.TypeMarket {
		return nil, fmt.Errorf("%w: type must be %q or %q", ErrValidation, models.TypeLimit, models.TypeMarket)
	}
	if !p.Volume.IsPositive() {
		return nil, fmt.Errorf("%w: volume must be positive", ErrValidation)
	}
	if p.Type == models.TypeLimit && !p.Price.IsPositive() {
		return nil, fmt.Errorf("%w: limit orders require a positive price", ErrValidation)
	}

	pair, err := models.ParseMarket(p.Market)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Limit orders lock against their own price; market orders against
	// the latest reference price.
	estimatedPrice := p.Price
	if p.Type == models.TypeMarket {
		estimatedPrice, err = e.prices.LatestPrice(ctx, p.Market)
		if err != nil {
			return nil, err
		}
		p.Price = decimal.Zero
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		UserID:          p.UserID,
		Market:          p.Market,
		Side:            p.Side,
		Type:            p.Type,
		Price:           p.Price,
		Volume:          p.Volume,
		RemainingVolume: p.Volume,
		State:           models.StateOpen,
	}

	err = e.db.WithTx(ctx, func(tx pgx.Tx) error {
		var currency string
		var required decimal.Decimal
		if p.Side == models.SideBuy {
			currency = pair.Quote
			required = e.buyLockAmount(estimatedPrice, p.Volume)
		} else {
			currency = pair.Base
			required = p.Volume
		}

		balance, err := e.db.GetBalanceForUpdate(ctx, tx, p.UserID, currency)
		if err != nil {
			return err
		}
		if balance.Available().LessThan(required) {
			return fmt.Errorf("%w: need %s %s, available %s",
				ErrInsufficientFunds, required, currency, balance.Available())
		}

		balance.Locked = balance.Locked.Add(required)
		if err := e.db.SetBalance(ctx, tx, balance); err != nil {
			return err
		}

		saved, err := e.db.InsertOrder(ctx, tx, order)
		if err != nil {
			return err
		}
		order = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.Type == models.TypeMarket {
		if _, err := e.Execute(ctx, order.ID, estimatedPrice); err != nil {
			return order, fmt.Errorf("market order %s accepted but execution failed: %w", order.ID, err)
		}
		if refreshed, err := e.db.GetOrder(ctx, order.ID); err == nil {
			order = refreshed
		}
	}

	return order, nil
}

// Execute fills the order's entire remaining volume at executionPrice.
// It is a no-op, returning (nil, nil), when the order does not exist or
// is no longer open, which makes it safe to re-invoke and resolves races
// between the scanner, cancellation and repeated sweeps.
func (e *Engine) Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) (*models.Trade, error) {
	var trade *models.Trade

	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		order, err := e.db.GetOrderForUpdate(ctx, tx, orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if order.State != models.StateOpen {
			return nil
		}

		pair, err := models.ParseMarket(order.Market)
		if err != nil {
			return err
		}

		volume := order.RemainingVolume
		funds := executionPrice.Mul(volume)
		fee := funds.Mul(e.feeRate).Truncate(feeScale)

		quote, base, err := e.lockBalancePair(ctx, tx, order.UserID, pair)
		if err != nil {
			return err
		}

		if order.Side == models.SideBuy {
			debit := funds.Add(fee)
			quote.Total = quote.Total.Sub(debit)
			quote.Locked = floorZero(quote.Locked.Sub(debit))

			// Volume-weighted average cost across all acquisitions.
			denom := base.Total.Add(volume)
			if denom.IsZero() {
				base.AvgCost = executionPrice
			} else {
				base.AvgCost = base.Total.Mul(base.AvgCost).Add(funds).Div(denom)
			}
			base.Total = base.Total.Add(volume)
		} else {
			base.Total = base.Total.Sub(volume)
			base.Locked = floorZero(base.Locked.Sub(volume))
			quote.Total = quote.Total.Add(funds.Sub(fee))
		}

		if err := e.db.SetBalance(ctx, tx, quote); err != nil {
			return err
		}
		if err := e.db.SetBalance(ctx, tx, base); err != nil {
			return err
		}

		trade, err = e.db.InsertTrade(ctx, tx, &models.Trade{
			ID:      uuid.New().String(),
			OrderID: order.ID,
			UserID:  order.UserID,
			Market:  order.Market,
			Side:    order.Side,
			Price:   executionPrice,
			Volume:  volume,
			Funds:   funds,
			Fee:     fee,
		})
		if err != nil {
			return err
		}

		return e.db.UpdateOrderState(ctx, tx, order.ID, decimal.Zero, models.StateFilled)
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// Cancel transitions an open order to cancelled and releases its
// remaining lock. Exactly one of Execute and Cancel wins a race on the
// same order; the loser observes the terminal state and fails here with
// ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, orderID string, userID int) error {
	return e.db.WithTx(ctx, func(tx pgx.Tx) error {
		order, err := e.db.GetOrderForUpdate(ctx, tx, orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("cancel order %s: not found", orderID)
			return ErrNotCancellable
		}
		if err != nil {
			return err
		}
		if order.UserID != userID {
			log.Printf("cancel order %s: not owned by user %d", orderID, userID)
			return ErrNotCancellable
		}
		if order.State != models.StateOpen {
			log.Printf("cancel order %s: already %s", orderID, order.State)
			return ErrNotCancellable
		}

		pair, err := models.ParseMarket(order.Market)
		if err != nil {
			return err
		}

		var currency string
		var unlock decimal.Decimal
		if order.Side == models.SideBuy {
			currency = pair.Quote
			unlock = e.buyLockAmount(order.Price, order.RemainingVolume)
		} else {
			currency = pair.Base
			unlock = order.RemainingVolume
		}

		balance, err := e.db.GetBalanceForUpdate(ctx, tx, order.UserID, currency)
		if err != nil {
			return err
		}
		balance.Locked = floorZero(balance.Locked.Sub(unlock))
		if err := e.db.SetBalance(ctx, tx, balance); err != nil {
			return err
		}

		return e.db.UpdateOrderState(ctx, tx, order.ID, order.RemainingVolume, models.StateCancelled)
	})
}

// buyLockAmount is the quote-currency reservation for a buy: gross funds
// plus the fee that will be charged on execution, with the fee truncated
// exactly as Execute truncates it.
func (e *Engine) buyLockAmount(price, volume decimal.Decimal) decimal.Decimal {
	funds := price.Mul(volume)
	fee := funds.Mul(e.feeRate).Truncate(feeScale)
	return funds.Add(fee)
}

// lockBalancePair row-locks both balances of a market pair for a user.
// Rows are always acquired in lexicographic currency order so that
// concurrent buy and sell executions for the same user cannot deadlock.
func (e *Engine) lockBalancePair(ctx context.Context, tx pgx.Tx, userID int, pair models.MarketPair) (quote, base *models.Balance, err error) {
	first, second := pair.Quote, pair.Base
	if second < first {
		first, second = second, first
	}

	b1, err := e.db.GetBalanceForUpdate(ctx, tx, userID, first)
	if err != nil {
		return nil, nil, err
	}
	b2, err := e.db.GetBalanceForUpdate(ctx, tx, userID, second)
	if err != nil {
		return nil, nil, err
	}

	if b1.Currency == pair.Quote {
		return b1, b2, nil
	}
	return b2, b1, nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
