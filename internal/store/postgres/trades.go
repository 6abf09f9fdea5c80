package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nordflow/ingest/internal/domain"
)

// UpsertTrades inserts or updates on (trade_id, delivery_area,
// trade_side), replacing only the mutable subset of a Trade on conflict.
func (r *Repository) UpsertTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert trades: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO trades (
			trade_id, delivery_area, trade_side, contract_id, contract_name,
			delivery_start, delivery_end, duration_minutes, contract_type,
			price, volume, trade_time, trade_updated_at, state,
			revision_number, phase, cross_exchange, reference_order_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)
		ON CONFLICT (trade_id, delivery_area, trade_side) DO UPDATE SET
			trade_updated_at = EXCLUDED.trade_updated_at,
			state            = EXCLUDED.state,
			revision_number  = EXCLUDED.revision_number,
			price            = EXCLUDED.price,
			volume           = EXCLUDED.volume`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert trades: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx,
			t.TradeID, t.DeliveryArea, string(t.TradeSide), t.ContractID, t.ContractName,
			t.DeliveryStart, t.DeliveryEnd, t.DurationMin, string(t.ContractType),
			t.Price, t.Volume, t.TradeTime, t.TradeUpdatedAt, t.State,
			t.RevisionNumber, t.Phase, t.CrossExchange, t.ReferenceOrderID,
		)
		if err != nil {
			return fmt.Errorf("upsert trades: exec: %w", err)
		}
	}

	return tx.Commit()
}

// TradesForContract returns diagnostic raw rows for one (area, contract)
// pair.
func (r *Repository) TradesForContract(ctx context.Context, area, contractID string) ([]domain.Trade, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT trade_id, delivery_area, trade_side, contract_id, contract_name,
			delivery_start, delivery_end, duration_minutes, contract_type,
			price, volume, trade_time, trade_updated_at, state,
			revision_number, phase, cross_exchange, reference_order_id
		FROM trades
		WHERE delivery_area = $1 AND contract_id = $2
		ORDER BY trade_time ASC`

	rows, err := r.db.QueryxContext(ctx, query, area, contractID)
	if err != nil {
		return nil, fmt.Errorf("trades for contract: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ContractsOnDate returns one representative trade row per contract
// delivering on the given day, the raw material for the read API's
// contract listing.
func (r *Repository) ContractsOnDate(ctx context.Context, area string, date time.Time) ([]domain.Trade, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		SELECT DISTINCT ON (contract_id) trade_id, delivery_area, trade_side, contract_id, contract_name,
			delivery_start, delivery_end, duration_minutes, contract_type,
			price, volume, trade_time, trade_updated_at, state,
			revision_number, phase, cross_exchange, reference_order_id
		FROM trades
		WHERE delivery_area = $1 AND delivery_start >= $2 AND delivery_start < $3
		ORDER BY contract_id, trade_time ASC`

	rows, err := r.db.QueryxContext(ctx, query, area, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("contracts on date: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows *sqlx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, contractType string
		if err := rows.Scan(
			&t.TradeID, &t.DeliveryArea, &side, &t.ContractID, &t.ContractName,
			&t.DeliveryStart, &t.DeliveryEnd, &t.DurationMin, &contractType,
			&t.Price, &t.Volume, &t.TradeTime, &t.TradeUpdatedAt, &t.State,
			&t.RevisionNumber, &t.Phase, &t.CrossExchange, &t.ReferenceOrderID,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.TradeSide = domain.TradeSide(side)
		t.ContractType = domain.ContractType(contractType)
		out = append(out, t)
	}
	return out, rows.Err()
}
