package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nordflow/ingest/internal/domain"
)

// InsertSnapshots bulk-inserts order book snapshots, storing bids/asks as
// JSON columns.
func (r *Repository) InsertSnapshots(ctx context.Context, snapshots []domain.OrderBookSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert snapshots: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO order_book_snapshots (snapshot_id, contract_id, area, ts, revision_number, bids, asks, is_native)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("insert snapshots: prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		bids, err := json.Marshal(s.Bids)
		if err != nil {
			return fmt.Errorf("marshal bids: %w", err)
		}
		asks, err := json.Marshal(s.Asks)
		if err != nil {
			return fmt.Errorf("marshal asks: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, s.SnapshotID, s.ContractID, s.Area, s.Timestamp, s.RevisionNumber, bids, asks, s.IsNative); err != nil {
			return fmt.Errorf("insert snapshots: exec: %w", err)
		}
	}

	return tx.Commit()
}
