package engine

import (
	"context"
	"fmt"

	"github.com/xtrntr/cointrader/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Minimum transaction sizes for the quote currency.
var (
	minDeposit  = decimal.NewFromInt(1000)
	minWithdraw = decimal.NewFromInt(5000)
)

// Deposit credits the user's quote-currency balance and records the
// transaction.
func (e *Engine) Deposit(ctx context.Context, userID int, amount decimal.Decimal) (*models.CashTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount.LessThan(minDeposit) {
		return nil, fmt.Errorf("%w: minimum deposit is %s %s", ErrValidation, minDeposit, e.quoteCurrency)
	}

	var saved *models.CashTransaction
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		balance, err := e.db.GetBalanceForUpdate(ctx, tx, userID, e.quoteCurrency)
		if err != nil {
			return err
		}
		balance.Total = balance.Total.Add(amount)
		if err := e.db.SetBalance(ctx, tx, balance); err != nil {
			return err
		}
		saved, err = e.db.InsertCashTransaction(ctx, tx, userID, "deposit", amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Withdraw debits the user's available quote-currency balance. Funds
// locked by open orders cannot be withdrawn.
func (e *Engine) Withdraw(ctx context.Context, userID int, amount decimal.Decimal) (*models.CashTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount.LessThan(minWithdraw) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s %s", ErrValidation, minWithdraw, e.quoteCurrency)
	}

	var saved *models.CashTransaction
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		balance, err := e.db.GetBalanceForUpdate(ctx, tx, userID, e.quoteCurrency)
		if err != nil {
			return err
		}
		if balance.Available().LessThan(amount) {
			return fmt.Errorf("%w: available %s %s", ErrInsufficientFunds, balance.Available(), e.quoteCurrency)
		}
		balance.Total = balance.Total.Sub(amount)
		if err := e.db.SetBalance(ctx, tx, balance); err != nil {
			return err
		}
		saved, err = e.db.InsertCashTransaction(ctx, tx, userID, "withdraw", amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
