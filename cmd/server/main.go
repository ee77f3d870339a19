package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/xtrntr/cointrader/internal/api"
	"github.com/xtrntr/cointrader/internal/auth"
	"github.com/xtrntr/cointrader/internal/config"
	"github.com/xtrntr/cointrader/internal/db"
	"github.com/xtrntr/cointrader/internal/engine"
	"github.com/xtrntr/cointrader/internal/market"
	"github.com/xtrntr/cointrader/internal/scanner"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// broadcastTickers pushes the latest reference prices to every connected
// websocket client.
func broadcastTickers(ctx context.Context, tickers api.TickerSource) {
	all, err := tickers.AllTickers(ctx)
	if err != nil {
		log.Printf("Failed to load tickers: %v", err)
		return
	}
	data, err := json.Marshal(map[string]interface{}{"tickers": all})
	if err != nil {
		log.Printf("Failed to marshal tickers: %v", err)
		return
	}

	clientsMu.RLock()
	defer clientsMu.RUnlock()
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}
}

func handleWebSocket(tickers api.TickerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial snapshot
		broadcastTickers(r.Context(), tickers)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, engine, scanner and HTTP server
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Reference price source: the Redis hash the market-data pipeline
	// maintains, or an in-memory stub when Redis is not configured.
	var tickers api.TickerSource
	if cfg.Redis.Addr != "" {
		tickers = market.NewRedisSource(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	} else {
		log.Println("No Redis configured, using in-memory price source")
		tickers = market.NewMemorySource()
	}

	// Initialize execution engine and limit order scanner
	eng := engine.New(database, tickers, cfg.FeeRate(), cfg.Trading.QuoteCurrency)
	scan := scanner.New(database, eng, tickers, cfg.ScanInterval())
	scan.Start(ctx)
	defer scan.Stop()

	// Initialize auth service
	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret)

	// Initialize API handlers
	handler := api.NewHandler(database, eng, authService, tickers)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint
	r.Get("/ws", handleWebSocket(tickers))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/ticker", handler.GetTickers)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Get("/orders/{id}", handler.GetOrder)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/trades", handler.GetUserTrades)
		r.Get("/trades/order/{orderId}", handler.GetOrderTrades)
		r.Get("/balances", handler.GetUserBalances)
		r.Get("/balances/{currency}", handler.GetBalance)
		r.Post("/cash/deposit", handler.Deposit)
		r.Post("/cash/withdraw", handler.Withdraw)
	})

	// Start periodic ticker broadcast
	go func() {
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				broadcastTickers(ctx, tickers)
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Printf("Starting server on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
