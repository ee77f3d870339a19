package scanner

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/xtrntr/cointrader/internal/db"
	"github.com/xtrntr/cointrader/internal/engine"
	"github.com/xtrntr/cointrader/internal/market"
	"github.com/xtrntr/cointrader/internal/models"

	"github.com/shopspring/decimal"
)

// Scanner periodically sweeps all open limit orders and executes the
// ones whose limit price has become marketable against the latest
// reference price. Sweeps run sequentially on a single goroutine, so a
// slow sweep delays the next one rather than overlapping with it; the
// execution engine's no-op on non-open orders covers any remaining race
// with cancellation.
type Scanner struct {
	db       *db.DB
	engine   *engine.Engine
	prices   market.PriceSource
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(database *db.DB, eng *engine.Engine, prices market.PriceSource, interval time.Duration) *Scanner {
	return &Scanner{
		db:       database,
		engine:   eng,
		prices:   prices,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *Scanner) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("limit order scanner started, interval %s", s.interval)
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Scanner) Stop() {
	close(s.stop)
	<-s.done
	log.Printf("limit order scanner stopped")
}

// Sweep evaluates every open limit order once. A failure on one order is
// logged and never aborts evaluation of the rest.
func (s *Scanner) Sweep(ctx context.Context) {
	orders, err := s.db.GetOpenLimitOrders(ctx)
	if err != nil {
		log.Printf("scanner: failed to load open orders: %v", err)
		return
	}

	for _, order := range orders {
		price, err := s.prices.LatestPrice(ctx, order.Market)
		if errors.Is(err, market.ErrPriceUnavailable) {
			continue
		}
		if err != nil {
			log.Printf("scanner: price lookup for %s: %v", order.Market, err)
			continue
		}

		if !shouldTrigger(order.Side, order.Price, price) {
			continue
		}

		// Fill at the order's own limit price, not the reference price.
		trade, err := s.engine.Execute(ctx, order.ID, order.Price)
		if errors.Is(err, db.ErrConflict) {
			// Lost a race with cancellation or another sweep; the order
			// will be re-evaluated next sweep if still open.
			continue
		}
		if err != nil {
			log.Printf("scanner: execute order %s: %v", order.ID, err)
			continue
		}
		if trade != nil {
			log.Printf("limit order %s executed at %s", order.ID, order.Price)
		}
	}
}

// shouldTrigger reports whether a resting limit order has become
// marketable: buys trigger at or below their limit, sells at or above.
func shouldTrigger(side string, limitPrice, referencePrice decimal.Decimal) bool {
	if side == models.SideBuy {
		return referencePrice.LessThanOrEqual(limitPrice)
	}
	return referencePrice.GreaterThanOrEqual(limitPrice)
}
