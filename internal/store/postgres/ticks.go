package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nordflow/ingest/internal/domain"
)

// InsertTicksIgnoreConflict inserts on tick_id; on conflict it does
// nothing, giving at-most-once storage for the at-least-once ingestion
// the revision stream's overlap produces.
func (r *Repository) InsertTicksIgnoreConflict(ctx context.Context, ticks []domain.OrderFlowTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert ticks: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO order_flow_ticks (
			tick_id, contract_id, delivery_area, order_id, side, type,
			price, volume, delta_volume, aggressor, updated_time, priority_time,
			is_snapshot, is_deleted, revision_number, root_updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
		)
		ON CONFLICT (tick_id) DO NOTHING`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("insert ticks: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range ticks {
		res, err := stmt.ExecContext(ctx,
			t.TickID, t.ContractID, t.DeliveryArea, t.OrderID, string(t.Side), string(t.Type),
			t.Price, t.Volume, t.DeltaVolume, string(t.Aggressor), t.UpdatedTime, t.PriorityTime,
			t.IsSnapshot, t.IsDeleted, t.RevisionNumber, t.RootUpdatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert ticks: exec: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	return inserted, tx.Commit()
}

// TicksForContract returns every tick for a contract with updated_time
// at or before upTo, sorted (updated_time asc, revision_number asc), the
// order the replayer folds in.
func (r *Repository) TicksForContract(ctx context.Context, contractID string, upTo time.Time) ([]domain.OrderFlowTick, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT tick_id, contract_id, delivery_area, order_id, side, type,
			price, volume, delta_volume, aggressor, updated_time, priority_time,
			is_snapshot, is_deleted, revision_number, root_updated_at
		FROM order_flow_ticks
		WHERE contract_id = $1 AND updated_time <= $2
		ORDER BY updated_time ASC, revision_number ASC`

	rows, err := r.db.QueryxContext(ctx, query, contractID, upTo)
	if err != nil {
		return nil, fmt.Errorf("ticks for contract: %w", err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

// TicksInWindow returns ticks for a contract within [from, to], the
// read API's hot-store path.
func (r *Repository) TicksInWindow(ctx context.Context, contractID string, from, to time.Time) ([]domain.OrderFlowTick, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		SELECT tick_id, contract_id, delivery_area, order_id, side, type,
			price, volume, delta_volume, aggressor, updated_time, priority_time,
			is_snapshot, is_deleted, revision_number, root_updated_at
		FROM order_flow_ticks
		WHERE contract_id = $1 AND updated_time >= $2 AND updated_time <= $3
		ORDER BY updated_time ASC, revision_number ASC`

	rows, err := r.db.QueryxContext(ctx, query, contractID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ticks in window: %w", err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

func scanTicks(rows *sqlx.Rows) ([]domain.OrderFlowTick, error) {
	var out []domain.OrderFlowTick
	for rows.Next() {
		var t domain.OrderFlowTick
		var side, typ, aggressor string
		if err := rows.Scan(
			&t.TickID, &t.ContractID, &t.DeliveryArea, &t.OrderID, &side, &typ,
			&t.Price, &t.Volume, &t.DeltaVolume, &aggressor, &t.UpdatedTime, &t.PriorityTime,
			&t.IsSnapshot, &t.IsDeleted, &t.RevisionNumber, &t.RootUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Side = domain.TickSide(side)
		t.Type = domain.TickType(typ)
		t.Aggressor = domain.Aggressor(aggressor)
		out = append(out, t)
	}
	return out, rows.Err()
}
