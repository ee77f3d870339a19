package engine

import (
	"context"
	"testing"

	"github.com/xtrntr/cointrader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeposit(t *testing.T) {
	cleanupDB(t)
	userID := createUser(t, "alice")

	tx, err := testEngine.Deposit(context.Background(), userID, decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.Equal(t, "deposit", tx.Type)
	assertDecimal(t, "50000", tx.Amount)

	// Balance row is created lazily on first deposit
	assertDecimal(t, "50000", getBalance(t, userID, "KRW").Total)

	// Below the minimum
	_, err = testEngine.Deposit(context.Background(), userID, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = testEngine.Deposit(context.Background(), userID, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWithdraw(t *testing.T) {
	cleanupDB(t)
	userID := createUser(t, "alice")
	fundBalance(t, userID, "KRW", "100000", "0")

	tx, err := testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(30000))
	require.NoError(t, err)
	assert.Equal(t, "withdraw", tx.Type)
	assertDecimal(t, "70000", getBalance(t, userID, "KRW").Total)

	// Below the minimum
	_, err = testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, ErrValidation)

	// More than available
	_, err = testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(80000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestWithdraw_LockedFundsUnavailable(t *testing.T) {
	cleanupDB(t)
	userID := createUser(t, "alice")
	fundBalance(t, userID, "KRW", "100000", "0")

	_, err := testEngine.PlaceOrder(context.Background(), PlaceOrderParams{
		UserID: userID,
		Market: "KRW-BTC",
		Side:   models.SideBuy,
		Type:   models.TypeLimit,
		Price:  decimal.NewFromInt(90000),
		Volume: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	// 90045 locked, only 9955 available despite 100000 total
	_, err = testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(50000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Withdrawing within the available portion still works
	_, err = testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(9000))
	require.NoError(t, err)
	assertDecimal(t, "91000", getBalance(t, userID, "KRW").Total)
}

func TestCashTransactionHistory(t *testing.T) {
	cleanupDB(t)
	userID := createUser(t, "alice")

	_, err := testEngine.Deposit(context.Background(), userID, decimal.NewFromInt(100000))
	require.NoError(t, err)
	_, err = testEngine.Withdraw(context.Background(), userID, decimal.NewFromInt(20000))
	require.NoError(t, err)

	txs, err := testDB.GetUserCashTransactions(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	// Newest first
	assert.Equal(t, "withdraw", txs[0].Type)
	assert.Equal(t, "deposit", txs[1].Type)
}
