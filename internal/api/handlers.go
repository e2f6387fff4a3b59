package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/xtrntr/venue/internal/auth"
	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"go.uber.org/zap"
)

type ctxKey int

const userIDKey ctxKey = iota

// TradeStore serves journaled trade history.
type TradeStore interface {
	GetUserTrades(ctx context.Context, userID string) ([]models.Trade, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	Journal     TradeStore // nil serves trades from memory
	Feed        *Broadcaster
	log         *logging.Logger
}

// NewHandler creates a new handler. journal may be nil.
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, journal TradeStore, log *logging.Logger) *Handler {
	log = log.Named("api")
	return &Handler{
		Exchange:    ex,
		AuthService: authService,
		Journal:     journal,
		Feed:        NewBroadcaster(ex, log),
		log:         log,
	}
}

// Router builds the HTTP surface. metrics may be nil.
func (h *Handler) Router(metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Get("/orderbook", h.GetOrderBook)
	r.Get("/ws", h.Feed.ServeHTTP)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/balance", h.GetBalance)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/trades", h.GetUserTrades)
	})
	return r
}

type credentials struct {
	Username string `json:"username"`
}

// Register creates a new exchange identity and returns a token for it
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		http.Error(w, `{"error": "Username required"}`, http.StatusBadRequest)
		return
	}

	userID, token, err := h.AuthService.Register(req.Username)
	if err != nil {
		h.log.Error("register failed", zap.Error(err))
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"id":       userID,
		"username": req.Username,
		"token":    token,
	})
}

// Login issues a token for the earliest identity with the given name
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	userID, token, err := h.AuthService.Login(req.Username)
	if err != nil {
		http.Error(w, `{"error": "Unknown user"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": userID, "token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(userIDKey).(string)
	return userID, ok
}

// writeExchangeError maps exchange errors onto status codes.
func writeExchangeError(w http.ResponseWriter, err error) {
	if errors.Is(err, exchange.ErrUnknownUser) {
		// Tokens outlive the in-memory registry across restarts.
		http.Error(w, `{"error": "Unknown user"}`, http.StatusUnauthorized)
		return
	}
	http.Error(w, `{"error": "Internal error"}`, http.StatusInternalServerError)
}

// GetBalance returns the caller's balance per currency
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balance, err := h.Exchange.Balance(userID)
	if err != nil {
		writeExchangeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

type orderView struct {
	ID        uint64                `json:"id"`
	UserID    string                `json:"user_id,omitempty"`
	Side      string                `json:"side"`
	Volume    models.CurrencyAmount `json:"volume"`
	Price     models.CurrencyAmount `json:"price"`
	CreatedAt time.Time             `json:"created_at"`
}

func newOrderView(o models.Order) orderView {
	return orderView{
		ID:        o.ID,
		UserID:    o.UserID,
		Side:      o.Side.String(),
		Volume:    o.Volume,
		Price:     o.Price,
		CreatedAt: o.CreatedAt,
	}
}

// GetUserOrders retrieves the caller's resting orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orders, err := h.Exchange.Orders(userID)
	if err != nil {
		writeExchangeError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetUserTrades retrieves the caller's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var (
		trades []models.Trade
		err    error
	)
	if h.Journal != nil {
		trades, err = h.Journal.GetUserTrades(r.Context(), userID)
		if err != nil {
			h.log.Error("journal read failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
			return
		}
	} else {
		trades, err = h.Exchange.Trades(userID)
		if err != nil {
			writeExchangeError(w, err)
			return
		}
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

type quoteView struct {
	Market  string     `json:"market"`
	BestBid *orderView `json:"best_bid"`
	BestAsk *orderView `json:"best_ask"`
}

func quoteViews(quotes []exchange.Quote) []quoteView {
	views := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		v := quoteView{Market: q.Market.String()}
		if q.BestBid != nil {
			o := newOrderView(*q.BestBid)
			o.UserID = ""
			v.BestBid = &o
		}
		if q.BestAsk != nil {
			o := newOrderView(*q.BestAsk)
			o.UserID = ""
			v.BestAsk = &o
		}
		views = append(views, v)
	}
	return views
}

// GetOrderBook returns the top of every market's book
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quoteViews(h.Exchange.GetOrderBook()))
}

type healthView struct {
	Status string `json:"status"`
	exchange.Stats
}

// Health reports liveness and matching progress. A stalled ticker shows up
// as a last_tick that stops advancing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthView{Status: "ok", Stats: h.Exchange.Stats()})
}
