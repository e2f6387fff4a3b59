package exchange

import (
	"math"
	"time"

	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/orderbook"
	"go.uber.org/zap"
)

// EngineState is the state of the matching engine.
type EngineState int

const (
	Idle EngineState = iota
	Matching
)

func (s EngineState) String() string {
	if s == Matching {
		return "matching"
	}
	return "idle"
}

// State returns the engine state. Outside of Match it is always Idle.
func (e *Exchange) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Remainders at or below this fraction of the order's volume before the fill
// count as filled, so float rounding cannot leave dust resting in the book.
const dustRatio = 1e-9

// Stats summarises the engine's activity.
type Stats struct {
	Ticks    uint64    `json:"ticks"`
	Trades   uint64    `json:"trades"`
	LastTick time.Time `json:"last_tick"`
}

// Stats returns the number of ticks run, trades executed and the time of the
// last tick.
func (e *Exchange) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Ticks: e.ticks, Trades: e.lastTradeID, LastTick: e.lastTick}
}

// Match runs one engine tick. Each market settles at most MaxMatchesPerTick
// crossing pairs (all of them when the cap is 0). It returns the executed
// trades; an empty result means no market crossed.
func (e *Exchange) Match() []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticks++
	e.lastTick = e.now()

	var trades []models.Trade
	for _, m := range e.markets {
		book := e.books[m]
		for n := 0; e.maxMatches == 0 || n < e.maxMatches; n++ {
			trade, ok := e.matchOnce(book)
			if !ok {
				break
			}
			trades = append(trades, trade)
		}
	}
	if len(trades) == 0 {
		e.log.Debug("no cross")
	}
	return trades
}

// matchOnce settles the best bid against the best ask if they cross.
func (e *Exchange) matchOnce(book *orderbook.Book) (models.Trade, bool) {
	bid, ok := book.BestBid()
	if !ok {
		return models.Trade{}, false
	}
	ask, ok := book.BestAsk()
	if !ok {
		return models.Trade{}, false
	}
	if bid.Market() != ask.Market() {
		e.log.Warn("best bid and ask trade different pairs",
			zap.Uint64("bid_id", bid.ID), zap.Stringer("bid_market", bid.Market()),
			zap.Uint64("ask_id", ask.ID), zap.Stringer("ask_market", ask.Market()))
		return models.Trade{}, false
	}
	if bid.Price.Value < ask.Price.Value {
		return models.Trade{}, false
	}

	traded := min(bid.Volume.Value, ask.Volume.Value)
	// Settlement uses the ask price.
	amount := ask.Price.Value * traded
	if !e.settlementFits(bid.UserID, ask.UserID, ask.Volume.Currency, ask.Price.Currency, traded, amount) {
		// Both orders stay put; their owners can cancel them.
		e.log.Error("settlement would overflow a balance",
			zap.Uint64("bid_id", bid.ID), zap.Uint64("ask_id", ask.ID), zap.Float64("amount", amount))
		return models.Trade{}, false
	}

	e.state = Matching
	defer func() { e.state = Idle }()

	e.removeOrder(bid)
	e.removeOrder(ask)

	// At most one side has a remainder; it keeps its ID and time priority.
	if rest := bid.Volume.Value - traded; rest > bid.Volume.Value*dustRatio {
		o := *bid
		o.Volume.Value = rest
		e.insertOrder(&o)
	} else if rest := ask.Volume.Value - traded; rest > ask.Volume.Value*dustRatio {
		o := *ask
		o.Volume.Value = rest
		e.insertOrder(&o)
	}

	e.lastTradeID++
	trade := models.Trade{
		ID:          e.lastTradeID,
		BuyOrderID:  bid.ID,
		SellOrderID: ask.ID,
		BuyerID:     bid.UserID,
		SellerID:    ask.UserID,
		Volume:      models.CurrencyAmount{Currency: ask.Volume.Currency, Value: traded},
		Price:       ask.Price,
		Amount:      amount,
		ExecutedAt:  e.now(),
	}
	e.settle(trade)

	e.log.Info("trade executed",
		zap.Uint64("trade_id", trade.ID),
		zap.Stringer("market", ask.Market()),
		zap.Uint64("buy_order_id", bid.ID),
		zap.Uint64("sell_order_id", ask.ID),
		zap.Float64("volume", traded),
		zap.Float64("price", ask.Price.Value),
		zap.Float64("amount", amount))
	return trade, true
}

// settlementFits reports whether every balance settle touches stays finite,
// including the intermediate balances of a self trade.
func (e *Exchange) settlementFits(buyerID, sellerID, base, quote string, traded, amount float64) bool {
	if !finite(amount) {
		return false
	}
	buyer, bok := e.registry.Lookup(buyerID)
	seller, sok := e.registry.Lookup(sellerID)
	if !bok || !sok {
		// settle logs the dangling reference.
		return true
	}
	if buyer == seller {
		return e.ledger.Fits(seller, base, -traded) && e.ledger.Fits(seller, quote, amount)
	}
	return e.ledger.Fits(seller, base, -traded) &&
		e.ledger.Fits(buyer, base, traded) &&
		e.ledger.Fits(seller, quote, amount) &&
		e.ledger.Fits(buyer, quote, -amount)
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// settle moves the asset from seller to buyer and the payment back.
func (e *Exchange) settle(t models.Trade) {
	seller, sok := e.registry.Lookup(t.SellerID)
	buyer, bok := e.registry.Lookup(t.BuyerID)
	if !sok || !bok {
		e.log.Error("trade references unknown user", zap.Uint64("trade_id", t.ID))
		return
	}
	payment := models.CurrencyAmount{Currency: t.Price.Currency, Value: t.Amount}

	steps := []struct {
		apply func(*models.User, models.CurrencyAmount) error
		user  *models.User
		amt   models.CurrencyAmount
	}{
		{e.ledger.Withdraw, seller, t.Volume},
		{e.ledger.Deposit, buyer, t.Volume},
		{e.ledger.Deposit, seller, payment},
		{e.ledger.Withdraw, buyer, payment},
	}
	for _, s := range steps {
		if err := s.apply(s.user, s.amt); err != nil {
			e.log.Error("settlement step failed", zap.Uint64("trade_id", t.ID), zap.Error(err))
		}
	}

	seller.Trades = append(seller.Trades, t)
	if buyer != seller {
		buyer.Trades = append(buyer.Trades, t)
	}
}
