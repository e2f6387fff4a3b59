package exchange

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtrntr/venue/internal/ledger"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/orderbook"
	"go.uber.org/zap"
)

// Options configures an Exchange
type Options struct {
	Currencies []string
	// MaxMatchesPerTick caps trades per market per Match call; 0 matches to a
	// fixpoint.
	MaxMatchesPerTick int
	// Clock stamps orders and trades. Defaults to time.Now.
	Clock func() time.Time
}

// Exchange owns the users, their balances and the order books. Every
// exported method holds the exchange lock for its whole duration.
type Exchange struct {
	mu sync.Mutex

	log        *logging.Logger
	registry   *Registry
	ledger     *ledger.Ledger
	books      map[models.Market]*orderbook.Book
	markets    []models.Market // sorted, for a stable matching order
	maxMatches int
	now        func() time.Time
	state      EngineState

	lastOrderID uint64
	lastTradeID uint64
	ticks       uint64
	lastTick    time.Time
}

// NewExchange creates a new exchange
func NewExchange(log *logging.Logger, opts Options) *Exchange {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Exchange{
		log:        log.Named("exchange"),
		registry:   NewRegistry(),
		ledger:     ledger.New(opts.Currencies),
		books:      make(map[models.Market]*orderbook.Book),
		maxMatches: opts.MaxMatchesPerTick,
		now:        opts.Clock,
	}
}

// Currencies returns the configured currency codes
func (e *Exchange) Currencies() []string {
	return e.ledger.Currencies()
}

// Register creates a new user with a zero balance in every currency and
// returns its identity. Repeated names create distinct users.
func (e *Exchange) Register(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.registry.Add(name, e.now())
	e.ledger.Open(u)
	e.log.Info("user registered", zap.String("user_id", u.ID), zap.String("name", name))
	return u.ID, nil
}

// SignIn returns the identity of the earliest user registered under name.
func (e *Exchange) SignIn(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.registry.LookupByName(strings.TrimSpace(name))
	if !ok {
		return "", fmt.Errorf("sign in %q: %w", name, ErrUnknownUser)
	}
	return u.ID, nil
}

// UserName returns the display name of a user.
func (e *Exchange) UserName(userID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// Balance returns a copy of the user's balance
func (e *Exchange) Balance(userID string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return nil, err
	}
	return e.ledger.Snapshot(u), nil
}

// Deposit adds funds to a user's balance
func (e *Exchange) Deposit(userID string, amt models.CurrencyAmount) error {
	return e.adjust(userID, amt, e.ledger.Deposit)
}

// Withdraw removes funds from a user's balance. The balance may go negative.
func (e *Exchange) Withdraw(userID string, amt models.CurrencyAmount) error {
	return e.adjust(userID, amt, e.ledger.Withdraw)
}

func (e *Exchange) adjust(userID string, amt models.CurrencyAmount, apply func(*models.User, models.CurrencyAmount) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return err
	}
	if !e.ledger.Supports(amt.Currency) {
		return fmt.Errorf("currency %q: %w", amt.Currency, ErrCurrencyMismatch)
	}
	if !positive(amt.Value) {
		return ErrInvalidAmount
	}
	if err := apply(u, amt); err != nil {
		if errors.Is(err, ledger.ErrOutOfRange) {
			return fmt.Errorf("%s balance: %w", amt.Currency, ErrAmountOutOfRange)
		}
		return err
	}
	return nil
}

// PlaceOrder validates an order and rests it in the book of its market and in
// the owner's open orders. The exchange assigns ID and CreatedAt.
func (e *Exchange) PlaceOrder(userID string, side models.Side, volume, price models.CurrencyAmount) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.user(userID); err != nil {
		return models.Order{}, err
	}
	if side != models.SideBuy && side != models.SideSell {
		return models.Order{}, fmt.Errorf("side must be buy or sell: %w", ErrInvalidOrder)
	}
	for _, c := range []string{volume.Currency, price.Currency} {
		if !e.ledger.Supports(c) {
			return models.Order{}, fmt.Errorf("currency %q: %w", c, ErrCurrencyMismatch)
		}
	}
	if volume.Currency == price.Currency {
		return models.Order{}, fmt.Errorf("volume and price both in %s: %w", volume.Currency, ErrCurrencyMismatch)
	}
	if !positive(volume.Value) || !positive(price.Value) {
		return models.Order{}, fmt.Errorf("volume and price must be positive: %w", ErrInvalidOrder)
	}
	if math.IsInf(volume.Value*price.Value, 0) {
		return models.Order{}, fmt.Errorf("order value: %w", ErrAmountOutOfRange)
	}

	e.lastOrderID++
	o := &models.Order{
		ID:        e.lastOrderID,
		UserID:    userID,
		Volume:    volume,
		Price:     price,
		Side:      side,
		CreatedAt: e.now(),
	}
	e.insertOrder(o)
	return *o, nil
}

// CancelOrder removes one of the user's open orders by ID.
func (e *Exchange) CancelOrder(userID string, orderID uint64) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return models.Order{}, err
	}
	o, ok := u.Orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	e.removeOrder(o)
	return *o, nil
}

// CancelOrderAt removes the index-th (1-based) order of the user's Orders
// listing.
func (e *Exchange) CancelOrderAt(userID string, index int) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return models.Order{}, err
	}
	open := sortedOrders(u)
	if index < 1 || index > len(open) {
		return models.Order{}, fmt.Errorf("order #%d: %w", index, ErrOrderNotFound)
	}
	o := u.Orders[open[index-1].ID]
	e.removeOrder(o)
	return *o, nil
}

// Orders returns copies of the user's open orders in ascending ID order.
func (e *Exchange) Orders(userID string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return nil, err
	}
	return sortedOrders(u), nil
}

// Trades returns the trades the user took part in, oldest first.
func (e *Exchange) Trades(userID string) ([]models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := e.user(userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, len(u.Trades))
	copy(out, u.Trades)
	return out, nil
}

// Quote is the top of one market's book. Nil sides are empty.
type Quote struct {
	Market  models.Market
	BestBid *models.Order
	BestAsk *models.Order
}

// GetOrderBook returns the best bid and ask of every market that has seen an
// order.
func (e *Exchange) GetOrderBook() []Quote {
	e.mu.Lock()
	defer e.mu.Unlock()

	quotes := make([]Quote, 0, len(e.markets))
	for _, m := range e.markets {
		q := Quote{Market: m}
		book := e.books[m]
		if o, ok := book.BestBid(); ok {
			c := *o
			q.BestBid = &c
		}
		if o, ok := book.BestAsk(); ok {
			c := *o
			q.BestAsk = &c
		}
		quotes = append(quotes, q)
	}
	return quotes
}

func (e *Exchange) user(userID string) (*models.User, error) {
	u, ok := e.registry.Lookup(userID)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrUnknownUser)
	}
	return u, nil
}

func (e *Exchange) book(m models.Market) *orderbook.Book {
	b, ok := e.books[m]
	if !ok {
		b = orderbook.New()
		e.books[m] = b
		i := sort.Search(len(e.markets), func(i int) bool {
			return e.markets[i].String() >= m.String()
		})
		e.markets = append(e.markets, models.Market{})
		copy(e.markets[i+1:], e.markets[i:])
		e.markets[i] = m
	}
	return b
}

// insertOrder adds o to its book and its owner's order set together.
func (e *Exchange) insertOrder(o *models.Order) {
	u, ok := e.registry.Lookup(o.UserID)
	if !ok {
		return
	}
	if e.book(o.Market()).Insert(o) {
		u.Orders[o.ID] = o
	}
}

// removeOrder takes o out of its book and its owner's order set together.
func (e *Exchange) removeOrder(o *models.Order) {
	if b, ok := e.books[o.Market()]; ok {
		b.Remove(o.ID)
	}
	if u, ok := e.registry.Lookup(o.UserID); ok {
		delete(u.Orders, o.ID)
	}
}

func sortedOrders(u *models.User) []models.Order {
	out := make([]models.Order, 0, len(u.Orders))
	for _, o := range u.Orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
