package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nordflow/ingest/internal/domain"
)

// GetTradeFetchState reads the Trade Ingester's per-area checkpoint.
func (r *Repository) GetTradeFetchState(ctx context.Context, area string) (domain.TradeFetchState, bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var s domain.TradeFetchState
	const query = `SELECT area, last_fetched_time, status, last_error, updated_at FROM trade_fetch_state WHERE area = $1`
	err := r.db.QueryRowxContext(ctx, query, area).Scan(&s.Area, &s.LastFetchedTime, &s.Status, &s.LastError, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.TradeFetchState{}, false, nil
	}
	if err != nil {
		return domain.TradeFetchState{}, false, fmt.Errorf("get trade fetch state: %w", err)
	}
	return s, true, nil
}

// SaveTradeFetchState upserts the Trade Ingester's checkpoint.
func (r *Repository) SaveTradeFetchState(ctx context.Context, s domain.TradeFetchState) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		INSERT INTO trade_fetch_state (area, last_fetched_time, status, last_error, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (area) DO UPDATE SET
			last_fetched_time = EXCLUDED.last_fetched_time,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = now()`
	_, err := r.db.ExecContext(ctx, query, s.Area, s.LastFetchedTime, s.Status, s.LastError)
	if err != nil {
		return fmt.Errorf("save trade fetch state: %w", err)
	}
	return nil
}

// GetCandleGenState reads the Candle Pipeline's per-area checkpoint.
func (r *Repository) GetCandleGenState(ctx context.Context, area string) (domain.CandleGenState, bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var s domain.CandleGenState
	const query = `SELECT area, last_generated_time, updated_at FROM candle_gen_state WHERE area = $1`
	err := r.db.QueryRowxContext(ctx, query, area).Scan(&s.Area, &s.LastGeneratedTime, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.CandleGenState{}, false, nil
	}
	if err != nil {
		return domain.CandleGenState{}, false, fmt.Errorf("get candle gen state: %w", err)
	}
	return s, true, nil
}

// SaveCandleGenState upserts the Candle Pipeline's checkpoint.
func (r *Repository) SaveCandleGenState(ctx context.Context, s domain.CandleGenState) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		INSERT INTO candle_gen_state (area, last_generated_time, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (area) DO UPDATE SET
			last_generated_time = EXCLUDED.last_generated_time,
			updated_at = now()`
	_, err := r.db.ExecContext(ctx, query, s.Area, s.LastGeneratedTime)
	if err != nil {
		return fmt.Errorf("save candle gen state: %w", err)
	}
	return nil
}

// GetOrderFlowSyncState reads the Order-Flow Ingester's per-area
// checkpoint pair.
func (r *Repository) GetOrderFlowSyncState(ctx context.Context, area string) (domain.OrderFlowSyncState, bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var s domain.OrderFlowSyncState
	const query = `SELECT area, last_archived_time, last_realtime_time, status, last_error, updated_at FROM order_flow_sync_state WHERE area = $1`
	err := r.db.QueryRowxContext(ctx, query, area).Scan(&s.Area, &s.LastArchivedTime, &s.LastRealtimeTime, &s.Status, &s.LastError, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.OrderFlowSyncState{}, false, nil
	}
	if err != nil {
		return domain.OrderFlowSyncState{}, false, fmt.Errorf("get order flow sync state: %w", err)
	}
	return s, true, nil
}

// SaveOrderFlowSyncState upserts the Order-Flow Ingester's checkpoint.
func (r *Repository) SaveOrderFlowSyncState(ctx context.Context, s domain.OrderFlowSyncState) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `
		INSERT INTO order_flow_sync_state (area, last_archived_time, last_realtime_time, status, last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (area) DO UPDATE SET
			last_archived_time = EXCLUDED.last_archived_time,
			last_realtime_time = EXCLUDED.last_realtime_time,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = now()`
	_, err := r.db.ExecContext(ctx, query, s.Area, s.LastArchivedTime, s.LastRealtimeTime, s.Status, s.LastError)
	if err != nil {
		return fmt.Errorf("save order flow sync state: %w", err)
	}
	return nil
}
