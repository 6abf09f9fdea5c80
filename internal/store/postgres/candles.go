package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/nordflow/ingest/internal/domain"
)

// UpsertCandles inserts or replaces on (contract_id, timestamp, area);
// all derived fields are replaced on conflict so re-derivation is
// idempotent.
func (r *Repository) UpsertCandles(ctx context.Context, candles []domain.MarketCandle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert candles: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO market_candles (contract_id, ts, area, open, high, low, close, volume, vwap, trade_count, contract_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (contract_id, ts, area) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume, vwap = EXCLUDED.vwap,
			trade_count = EXCLUDED.trade_count, contract_type = EXCLUDED.contract_type`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert candles: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.ContractID, c.Timestamp, c.Area, c.Open, c.High, c.Low, c.Close, c.Volume, c.VWAP, c.TradeCount, string(c.ContractType)); err != nil {
			return fmt.Errorf("upsert candles: exec: %w", err)
		}
	}

	return tx.Commit()
}

// CandlesForContract returns the full candle series sorted by timestamp.
func (r *Repository) CandlesForContract(ctx context.Context, area, contractID string) ([]domain.MarketCandle, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT contract_id, ts, area, open, high, low, close, volume, vwap, trade_count, contract_type
		FROM market_candles
		WHERE area = $1 AND contract_id = $2
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, area, contractID)
	if err != nil {
		return nil, fmt.Errorf("candles for contract: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// RecentCandles returns the last n candles sorted ascending by time, used
// by the live runner's strategy step.
func (r *Repository) RecentCandles(ctx context.Context, area, contractID string, n int) ([]domain.MarketCandle, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT contract_id, ts, area, open, high, low, close, volume, vwap, trade_count, contract_type
		FROM market_candles
		WHERE area = $1 AND contract_id = $2
		ORDER BY ts DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, area, contractID, n)
	if err != nil {
		return nil, fmt.Errorf("recent candles: %w", err)
	}
	defer rows.Close()
	out, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AggregateTrades runs the minute-bucketed OHLCV aggregation over trades
// in [from, to) for one area, grouped by (contract_id,
// date_trunc('minute', trade_time), contract_type). This is the SQL the
// candle pipeline runs per chunk.
func (r *Repository) AggregateTrades(ctx context.Context, area string, from, to time.Time) ([]domain.MarketCandle, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT
			contract_id,
			date_trunc('minute', trade_time) AS minute,
			contract_type,
			(array_agg(price ORDER BY trade_time ASC))[1]  AS open,
			(array_agg(price ORDER BY trade_time DESC))[1] AS close,
			MAX(price) AS high,
			MIN(price) AS low,
			SUM(volume) AS volume,
			SUM(price * volume) AS notional,
			COUNT(*) AS trade_count
		FROM trades
		WHERE delivery_area = $1 AND trade_time >= $2 AND trade_time < $3
		GROUP BY contract_id, date_trunc('minute', trade_time), contract_type`

	rows, err := r.db.QueryxContext(ctx, query, area, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate trades: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketCandle
	for rows.Next() {
		var c domain.MarketCandle
		var contractType string
		var notional decimal.Decimal
		if err := rows.Scan(&c.ContractID, &c.Timestamp, &contractType, &c.Open, &c.Close, &c.High, &c.Low, &c.Volume, &notional, &c.TradeCount); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		c.Area = area
		c.ContractType = domain.ContractType(contractType)
		if !c.Volume.IsZero() {
			c.VWAP = notional.Div(c.Volume)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandles(rows *sqlx.Rows) ([]domain.MarketCandle, error) {
	var out []domain.MarketCandle
	for rows.Next() {
		var c domain.MarketCandle
		var contractType string
		if err := rows.Scan(&c.ContractID, &c.Timestamp, &c.Area, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.VWAP, &c.TradeCount, &contractType); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.ContractType = domain.ContractType(contractType)
		out = append(out, c)
	}
	return out, rows.Err()
}
