package storage

import (
	"context"
	"time"

	"github.com/alpha-pool/decision-core/internal/atr"
)

// CandleRepository implements atr.CandleRepository against marks_1m.
type CandleRepository struct {
	db *DB
}

// NewCandleRepository builds a CandleRepository bound to db.
func NewCandleRepository(db *DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// LatestCandles returns the n most recent candles for asset, oldest first,
// matching the ordering atr.computeATR expects.
func (r *CandleRepository) LatestCandles(asset string, n int) ([]atr.Candle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT ts, mid, high, low, close, atr14
		FROM marks_1m
		WHERE asset = $1
		ORDER BY ts DESC
		LIMIT $2
	`, asset, n)
	if err != nil {
		return nil, wrapIO("LatestCandles", err)
	}
	defer rows.Close()

	var candles []atr.Candle
	for rows.Next() {
		var c atr.Candle
		if err := rows.Scan(&c.Ts, &c.Mid, &c.High, &c.Low, &c.Close, &c.ATR14); err != nil {
			return nil, wrapIO("LatestCandles", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapIO("LatestCandles", err)
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// InsertCandle upserts a single 1-minute mark, called from the ingestion
// path that feeds the ATR provider's cache misses.
func (r *CandleRepository) InsertCandle(asset string, c atr.Candle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO marks_1m (asset, ts, mid, high, low, close, atr14)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset, ts) DO UPDATE SET
			mid = EXCLUDED.mid, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, atr14 = EXCLUDED.atr14
	`, asset, c.Ts, c.Mid, c.High, c.Low, c.Close, c.ATR14)
	return wrapIO("InsertCandle", err)
}
