package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/cointrader/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned when a transaction loses a concurrent-mutation
// race (serialization failure or deadlock). Callers should treat it as a
// transient no-op and retry or skip.
var ErrConflict = errors.New("persistence conflict")

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. Serialization failures and deadlocks surface as
// ErrConflict.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetBalance retrieves a single (user, currency) balance. A pair that has
// never been touched reads as an all-zero balance.
func (db *DB) GetBalance(ctx context.Context, userID int, currency string) (*models.Balance, error) {
	b := &models.Balance{UserID: userID, Currency: currency}
	err := db.Pool.QueryRow(ctx,
		"SELECT total, locked, avg_cost FROM balances WHERE user_id = $1 AND currency = $2",
		userID, currency).Scan(&b.Total, &b.Locked, &b.AvgCost)
	if err == pgx.ErrNoRows {
		b.Total = decimal.Zero
		b.Locked = decimal.Zero
		b.AvgCost = decimal.Zero
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// GetUserBalances retrieves all balances for a user
func (db *DB) GetUserBalances(ctx context.Context, userID int) ([]models.Balance, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT user_id, currency, total, locked, avg_cost FROM balances WHERE user_id = $1 ORDER BY currency",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	var balances []models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserID, &b.Currency, &b.Total, &b.Locked, &b.AvgCost); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// GetBalanceForUpdate row-locks the (user, currency) balance inside tx,
// creating the row lazily with all fields zero on first reference.
func (db *DB) GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID int, currency string) (*models.Balance, error) {
	_, err := tx.Exec(ctx,
		"INSERT INTO balances (user_id, currency) VALUES ($1, $2) ON CONFLICT (user_id, currency) DO NOTHING",
		userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	b := &models.Balance{UserID: userID, Currency: currency}
	err = tx.QueryRow(ctx,
		"SELECT total, locked, avg_cost FROM balances WHERE user_id = $1 AND currency = $2 FOR UPDATE",
		userID, currency).Scan(&b.Total, &b.Locked, &b.AvgCost)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance row: %w", err)
	}
	return b, nil
}

// SetBalance writes back a balance row previously locked with
// GetBalanceForUpdate.
func (db *DB) SetBalance(ctx context.Context, tx pgx.Tx, b *models.Balance) error {
	tag, err := tx.Exec(ctx,
		"UPDATE balances SET total = $1, locked = $2, avg_cost = $3 WHERE user_id = $4 AND currency = $5",
		b.Total, b.Locked, b.AvgCost, b.UserID, b.Currency)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance row missing for user %d currency %s", b.UserID, b.Currency)
	}
	return nil
}

// InsertOrder persists a new order inside tx
func (db *DB) InsertOrder(ctx context.Context, tx pgx.Tx, order *models.Order) (*models.Order, error) {
	saved := &models.Order{}
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, market, side, ord_type, price, volume, remaining_volume, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, user_id, market, side, ord_type, price, volume, remaining_volume, state, created_at`,
		order.ID, order.UserID, order.Market, order.Side, order.Type,
		order.Price, order.Volume, order.RemainingVolume, order.State).Scan(
		&saved.ID, &saved.UserID, &saved.Market, &saved.Side, &saved.Type,
		&saved.Price, &saved.Volume, &saved.RemainingVolume, &saved.State, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return saved, nil
}

// GetOrderForUpdate row-locks an order inside tx. Returns pgx.ErrNoRows
// if the order does not exist.
func (db *DB) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*models.Order, error) {
	order := &models.Order{}
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, market, side, ord_type, price, volume, remaining_volume, state, created_at
		 FROM orders WHERE id = $1 FOR UPDATE`,
		orderID).Scan(
		&order.ID, &order.UserID, &order.Market, &order.Side, &order.Type,
		&order.Price, &order.Volume, &order.RemainingVolume, &order.State, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrderState transitions an order's remaining volume and state
// inside tx.
func (db *DB) UpdateOrderState(ctx context.Context, tx pgx.Tx, orderID string, remaining decimal.Decimal, state string) error {
	tag, err := tx.Exec(ctx,
		"UPDATE orders SET remaining_volume = $1, state = $2 WHERE id = $3",
		remaining, state, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

// InsertTrade appends a trade row inside tx
func (db *DB) InsertTrade(ctx context.Context, tx pgx.Tx, trade *models.Trade) (*models.Trade, error) {
	saved := &models.Trade{}
	err := tx.QueryRow(ctx,
		`INSERT INTO trades (id, order_id, user_id, market, side, price, volume, funds, fee)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, order_id, user_id, market, side, price, volume, funds, fee, created_at`,
		trade.ID, trade.OrderID, trade.UserID, trade.Market, trade.Side,
		trade.Price, trade.Volume, trade.Funds, trade.Fee).Scan(
		&saved.ID, &saved.OrderID, &saved.UserID, &saved.Market, &saved.Side,
		&saved.Price, &saved.Volume, &saved.Funds, &saved.Fee, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trade: %w", err)
	}
	return saved, nil
}

// GetOrder retrieves a single order by id
func (db *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, user_id, market, side, ord_type, price, volume, remaining_volume, state, created_at
		 FROM orders WHERE id = $1`,
		orderID).Scan(
		&order.ID, &order.UserID, &order.Market, &order.Side, &order.Type,
		&order.Price, &order.Volume, &order.RemainingVolume, &order.State, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetUserOrders retrieves a user's orders, optionally filtered by state
func (db *DB) GetUserOrders(ctx context.Context, userID int, state string) ([]models.Order, error) {
	query := `SELECT id, user_id, market, side, ord_type, price, volume, remaining_volume, state, created_at
		 FROM orders WHERE user_id = $1`
	args := []any{userID}
	if state != "" {
		query += " AND state = $2"
		args = append(args, state)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Market, &order.Side, &order.Type,
			&order.Price, &order.Volume, &order.RemainingVolume, &order.State, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// GetOpenLimitOrders retrieves all open limit orders for the scanner
func (db *DB) GetOpenLimitOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, market, side, ord_type, price, volume, remaining_volume, state, created_at
		FROM orders
		WHERE state = 'open' AND ord_type = 'limit'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Market, &order.Side, &order.Type,
			&order.Price, &order.Volume, &order.RemainingVolume, &order.State, &order.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// GetUserTrades retrieves all trades for a user, newest first
func (db *DB) GetUserTrades(ctx context.Context, userID int) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		`SELECT id, order_id, user_id, market, side, price, volume, funds, fee, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// GetOrderTrades retrieves the trades recorded against a single order
func (db *DB) GetOrderTrades(ctx context.Context, orderID string) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		`SELECT id, order_id, user_id, market, side, price, volume, funds, fee, created_at
		 FROM trades WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
}

func (db *DB) queryTrades(ctx context.Context, query string, arg any) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var trade models.Trade
		if err := rows.Scan(&trade.ID, &trade.OrderID, &trade.UserID, &trade.Market, &trade.Side,
			&trade.Price, &trade.Volume, &trade.Funds, &trade.Fee, &trade.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// InsertCashTransaction appends a deposit/withdraw journal row inside tx
func (db *DB) InsertCashTransaction(ctx context.Context, tx pgx.Tx, userID int, txType string, amount decimal.Decimal) (*models.CashTransaction, error) {
	saved := &models.CashTransaction{}
	err := tx.QueryRow(ctx,
		`INSERT INTO cash_transactions (user_id, tx_type, amount)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, tx_type, amount, created_at`,
		userID, txType, amount).Scan(
		&saved.ID, &saved.UserID, &saved.Type, &saved.Amount, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cash transaction: %w", err)
	}
	return saved, nil
}

// GetUserCashTransactions retrieves a user's deposit/withdraw history
func (db *DB) GetUserCashTransactions(ctx context.Context, userID int) ([]models.CashTransaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, tx_type, amount, created_at
		 FROM cash_transactions WHERE user_id = $1 ORDER BY id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cash transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CashTransaction
	for rows.Next() {
		var t models.CashTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
