package orderbook

import (
	"github.com/google/btree"
	"github.com/xtrntr/venue/internal/models"
)

const degree = 16

// Book holds the open orders of one market, bids and asks each kept in
// price/time priority. Orders stored in the book must not be mutated while
// they are in it. Book is not safe for concurrent use.
type Book struct {
	bids  *btree.BTreeG[*models.Order]
	asks  *btree.BTreeG[*models.Order]
	index map[uint64]*models.Order
}

// New creates an empty book
func New() *Book {
	return &Book{
		bids:  btree.NewG(degree, bidLess),
		asks:  btree.NewG(degree, askLess),
		index: make(map[uint64]*models.Order),
	}
}

// Buy orders: highest price first, then earliest time
func bidLess(a, b *models.Order) bool {
	if a.Price.Value != b.Price.Value {
		return a.Price.Value > b.Price.Value
	}
	return earlier(a, b)
}

// Sell orders: lowest price first, then earliest time
func askLess(a, b *models.Order) bool {
	if a.Price.Value != b.Price.Value {
		return a.Price.Value < b.Price.Value
	}
	return earlier(a, b)
}

// earlier breaks price ties by creation time, then by ID so that no two
// distinct orders compare equal.
func earlier(a, b *models.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (b *Book) side(s models.Side) *btree.BTreeG[*models.Order] {
	switch s {
	case models.SideBuy:
		return b.bids
	case models.SideSell:
		return b.asks
	default:
		return nil
	}
}

// Insert adds the order to its side. It reports false when the order has no
// side or an order with the same ID is already present.
func (b *Book) Insert(o *models.Order) bool {
	tree := b.side(o.Side)
	if tree == nil {
		return false
	}
	if _, ok := b.index[o.ID]; ok {
		return false
	}
	tree.ReplaceOrInsert(o)
	b.index[o.ID] = o
	return true
}

// Remove takes the order with the given ID out of the book. Removing an
// absent order is a no-op that reports false.
func (b *Book) Remove(id uint64) (*models.Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	b.side(o.Side).Delete(o)
	delete(b.index, id)
	return o, true
}

// Get returns the order with the given ID if it is in the book.
func (b *Book) Get(id uint64) (*models.Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// BestBid returns the highest-priority buy order
func (b *Book) BestBid() (*models.Order, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority sell order
func (b *Book) BestAsk() (*models.Order, bool) {
	return b.asks.Min()
}

// Len returns the number of resting orders on each side.
func (b *Book) Len() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Empty reports whether both sides are empty.
func (b *Book) Empty() bool {
	return len(b.index) == 0
}

// Bids returns the buy orders in priority order.
func (b *Book) Bids() []*models.Order {
	return collect(b.bids)
}

// Asks returns the sell orders in priority order.
func (b *Book) Asks() []*models.Order {
	return collect(b.asks)
}

func collect(tree *btree.BTreeG[*models.Order]) []*models.Order {
	out := make([]*models.Order, 0, tree.Len())
	tree.Ascend(func(o *models.Order) bool {
		out = append(out, o)
		return true
	})
	return out
}
