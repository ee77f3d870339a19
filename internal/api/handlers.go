package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/cointrader/internal/auth"
	"github.com/xtrntr/cointrader/internal/db"
	"github.com/xtrntr/cointrader/internal/engine"
	"github.com/xtrntr/cointrader/internal/market"
	"github.com/xtrntr/cointrader/internal/models"

	"github.com/shopspring/decimal"
)

// TickerSource is the read-only market data view exposed over the API.
type TickerSource interface {
	market.PriceSource
	AllTickers(ctx context.Context) ([]market.Ticker, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *engine.Engine
	AuthService *auth.AuthService
	Tickers     TickerSource
}

// NewHandler creates a new handler
func NewHandler(db *db.DB, eng *engine.Engine, authService *auth.AuthService, tickers TickerSource) *Handler {
	return &Handler{DB: db, Engine: eng, AuthService: authService, Tickers: tickers}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
	case errors.Is(err, engine.ErrInsufficientFunds):
		http.Error(w, `{"error": "Insufficient funds"}`, http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotCancellable):
		http.Error(w, `{"error": "Order not cancellable"}`, http.StatusBadRequest)
	case errors.Is(err, market.ErrPriceUnavailable):
		http.Error(w, `{"error": "Reference price unavailable"}`, http.StatusBadRequest)
	case errors.Is(err, db.ErrConflict):
		http.Error(w, `{"error": "Concurrent update, retry"}`, http.StatusConflict)
	default:
		http.Error(w, `{"error": "Internal error"}`, http.StatusInternalServerError)
	}
}

func orderResponse(o *models.Order) map[string]interface{} {
	var price *string
	if o.Type == models.TypeLimit {
		p := o.Price.String()
		price = &p
	}
	return map[string]interface{}{
		"id":               o.ID,
		"market":           o.Market,
		"side":             o.Side,
		"ord_type":         o.Type,
		"price":            price,
		"volume":           o.Volume.String(),
		"remaining_volume": o.RemainingVolume.String(),
		"state":            o.State,
		"created_at":       o.CreatedAt.Format(time.RFC3339),
	}
}

// PlaceOrder handles order placement
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Market  string `json:"market"`
		Side    string `json:"side"`
		OrdType string `json:"ord_type"`
		Price   string `json:"price"`
		Volume  string `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	volume, err := decimal.NewFromString(req.Volume)
	if err != nil {
		http.Error(w, `{"error": "Invalid volume"}`, http.StatusBadRequest)
		return
	}

	var price decimal.Decimal
	if req.Price != "" {
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			http.Error(w, `{"error": "Invalid price"}`, http.StatusBadRequest)
			return
		}
	}

	order, err := h.Engine.PlaceOrder(r.Context(), engine.PlaceOrderParams{
		UserID: userID,
		Market: req.Market,
		Side:   req.Side,
		Type:   req.OrdType,
		Price:  price,
		Volume: volume,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(orderResponse(order))
}

// GetUserOrders retrieves a user's orders, optionally filtered by state
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orders, err := h.DB.GetUserOrders(r.Context(), userID, r.URL.Query().Get("state"))
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]map[string]interface{}, 0, len(orders))
	for i := range orders {
		resp = append(resp, orderResponse(&orders[i]))
	}
	json.NewEncoder(w).Encode(resp)
}

// GetOrder retrieves a single order
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	order, err := h.DB.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil || order.UserID != userID {
		http.Error(w, `{"error": "Order not found"}`, http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(orderResponse(order))
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	if err := h.Engine.Cancel(r.Context(), orderID, userID); err != nil {
		writeEngineError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"id":      orderID,
		"state":   models.StateCancelled,
	})
}

func tradeResponse(t *models.Trade) map[string]interface{} {
	return map[string]interface{}{
		"id":         t.ID,
		"order_id":   t.OrderID,
		"market":     t.Market,
		"side":       t.Side,
		"price":      t.Price.String(),
		"volume":     t.Volume.String(),
		"funds":      t.Funds.String(),
		"fee":        t.Fee.String(),
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
}

// GetUserTrades retrieves a user's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	trades, err := h.DB.GetUserTrades(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]map[string]interface{}, 0, len(trades))
	for i := range trades {
		resp = append(resp, tradeResponse(&trades[i]))
	}
	json.NewEncoder(w).Encode(resp)
}

// GetOrderTrades retrieves the trades recorded against one order
func (h *Handler) GetOrderTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderId")
	order, err := h.DB.GetOrder(r.Context(), orderID)
	if err != nil || order.UserID != userID {
		http.Error(w, `{"error": "Order not found"}`, http.StatusNotFound)
		return
	}

	trades, err := h.DB.GetOrderTrades(r.Context(), orderID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]map[string]interface{}, 0, len(trades))
	for i := range trades {
		resp = append(resp, tradeResponse(&trades[i]))
	}
	json.NewEncoder(w).Encode(resp)
}

func balanceResponse(b *models.Balance) map[string]string {
	return map[string]string{
		"currency":  b.Currency,
		"total":     b.Total.String(),
		"locked":    b.Locked.String(),
		"avg_cost":  b.AvgCost.String(),
		"available": b.Available().String(),
	}
}

// GetUserBalances retrieves all balances for the user
func (h *Handler) GetUserBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balances, err := h.DB.GetUserBalances(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve balances"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]map[string]string, 0, len(balances))
	for i := range balances {
		resp = append(resp, balanceResponse(&balances[i]))
	}
	json.NewEncoder(w).Encode(resp)
}

// GetBalance retrieves a single currency balance. Untouched pairs read
// as zero.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	currency := chi.URLParam(r, "currency")
	balance, err := h.DB.GetBalance(r.Context(), userID, currency)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve balance"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(balanceResponse(balance))
}

func (h *Handler) cashOp(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, userID int, amount decimal.Decimal) (*models.CashTransaction, error)) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, `{"error": "Invalid amount"}`, http.StatusBadRequest)
		return
	}

	tx, err := op(r.Context(), userID, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"transaction_id": tx.ID,
		"type":           tx.Type,
		"amount":         tx.Amount.String(),
		"created_at":     tx.CreatedAt.Format(time.RFC3339),
	})
}

// Deposit credits the user's quote-currency balance
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.cashOp(w, r, h.Engine.Deposit)
}

// Withdraw debits the user's available quote-currency balance
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.cashOp(w, r, h.Engine.Withdraw)
}

// GetTickers returns the latest reference prices for all markets
func (h *Handler) GetTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.Tickers.AllTickers(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve tickers"}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(tickers)
}
