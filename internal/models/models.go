package models

import (
	"fmt"
	"time"
)

// Side is the direction of an order. The numeric values are part of the wire
// format.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// CurrencyAmount is a currency code paired with a value
type CurrencyAmount struct {
	Currency string  `json:"currencyType"`
	Value    float64 `json:"value"`
}

func (c CurrencyAmount) String() string {
	return fmt.Sprintf("%f%s", c.Value, c.Currency)
}

// Market identifies the pair an order trades: Base is bought or sold, Quote
// is what it is priced in.
type Market struct {
	Base  string
	Quote string
}

func (m Market) String() string {
	return m.Base + "-" + m.Quote
}

// User represents a registered user
type User struct {
	ID        string
	Name      string
	Balance   map[string]float64 // currency -> amount
	Orders    map[uint64]*Order  // open orders by ID
	Trades    []Trade
	CreatedAt time.Time
}

// Order represents a buy or sell order
type Order struct {
	ID        uint64
	UserID    string
	Volume    CurrencyAmount // what is bought or sold
	Price     CurrencyAmount // price per unit of Volume
	Side      Side
	CreatedAt time.Time // Used for time priority
}

// Market returns the pair the order trades.
func (o *Order) Market() Market {
	return Market{Base: o.Volume.Currency, Quote: o.Price.Currency}
}

// Trade represents an executed trade
type Trade struct {
	ID          uint64         `json:"id"`
	BuyOrderID  uint64         `json:"buy_order_id"`
	SellOrderID uint64         `json:"sell_order_id"`
	BuyerID     string         `json:"buyer_id"`
	SellerID    string         `json:"seller_id"`
	Volume      CurrencyAmount `json:"volume"`
	Price       CurrencyAmount `json:"price"`  // per unit
	Amount      float64        `json:"amount"` // Price.Value * Volume.Value, in Price.Currency
	ExecutedAt  time.Time      `json:"executed_at"`
}
