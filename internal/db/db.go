package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtrntr/venue/internal/models"
)

// Schema of the trade journal. Rows are only ever appended; trade_id is the
// exchange's in-process sequence and restarts with the process, so the
// journal keeps its own key.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            BIGSERIAL PRIMARY KEY,
    trade_id      BIGINT NOT NULL,
    buy_order_id  BIGINT NOT NULL,
    sell_order_id BIGINT NOT NULL,
    buyer_id      TEXT NOT NULL,
    seller_id     TEXT NOT NULL,
    base          TEXT NOT NULL,
    quote         TEXT NOT NULL,
    volume        DOUBLE PRECISION NOT NULL,
    price         DOUBLE PRECISION NOT NULL,
    amount        DOUBLE PRECISION NOT NULL,
    executed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_buyer_idx ON trades (buyer_id);
CREATE INDEX IF NOT EXISTS trades_seller_idx ON trades (seller_id);
`

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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// EnsureSchema creates the journal table if it does not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertTrades appends trades to the journal in one batch
func (db *DB) InsertTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			"INSERT INTO trades (trade_id, buy_order_id, sell_order_id, buyer_id, seller_id, base, quote, volume, price, amount, executed_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
			int64(t.ID), int64(t.BuyOrderID), int64(t.SellOrderID), t.BuyerID, t.SellerID,
			t.Volume.Currency, t.Price.Currency, t.Volume.Value, t.Price.Value, t.Amount, t.ExecutedAt)
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record trades: %w", err)
	}
	return nil
}

// GetUserTrades retrieves all journaled trades for a user, oldest first
func (db *DB) GetUserTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT trade_id, buy_order_id, sell_order_id, buyer_id, seller_id, base, quote, volume, price, amount, executed_at "+
			"FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t                 models.Trade
			id, buyID, sellID int64
		)
		if err := rows.Scan(&id, &buyID, &sellID, &t.BuyerID, &t.SellerID,
			&t.Volume.Currency, &t.Price.Currency, &t.Volume.Value, &t.Price.Value, &t.Amount, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ID, t.BuyOrderID, t.SellOrderID = uint64(id), uint64(buyID), uint64(sellID)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}
