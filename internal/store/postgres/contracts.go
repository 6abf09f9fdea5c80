package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nordflow/ingest/internal/domain"
)

// UpsertContracts updates mutable fields (name, open/close times,
// updated_at) on conflict for (contract_id, delivery_area).
func (r *Repository) UpsertContracts(ctx context.Context, contracts []domain.OrderContract) error {
	if len(contracts) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert contracts: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO order_contracts (
			contract_id, delivery_area, contract_name, delivery_start, delivery_end,
			delivery_date, contract_open_time, contract_close_time, is_local_contract,
			is_archived, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,now())
		ON CONFLICT (contract_id, delivery_area) DO UPDATE SET
			contract_name = EXCLUDED.contract_name,
			contract_open_time = EXCLUDED.contract_open_time,
			contract_close_time = EXCLUDED.contract_close_time,
			updated_at = now()`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert contracts: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range contracts {
		if _, err := stmt.ExecContext(ctx, c.ContractID, c.DeliveryArea, c.ContractName, c.DeliveryStart, c.DeliveryEnd,
			c.DeliveryDate, c.ContractOpenTime, c.ContractCloseTime, c.IsLocalContract); err != nil {
			return fmt.Errorf("upsert contracts: exec: %w", err)
		}
	}

	return tx.Commit()
}

// MarkContractArchived flips is_archived true once the full historical
// revisions payload has been persisted for the contract.
func (r *Repository) MarkContractArchived(ctx context.Context, area, contractID string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	const query = `UPDATE order_contracts SET is_archived = true, updated_at = now() WHERE delivery_area = $1 AND contract_id = $2`
	_, err := r.db.ExecContext(ctx, query, area, contractID)
	if err != nil {
		return fmt.Errorf("mark contract archived: %w", err)
	}
	return nil
}

// UnarchivedContracts lists contracts for (area, date) with
// is_archived = false, the worklist the historical archival loop retries
// each run.
func (r *Repository) UnarchivedContracts(ctx context.Context, area string, date time.Time) ([]domain.OrderContract, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		SELECT contract_id, delivery_area, contract_name, delivery_start, delivery_end,
			delivery_date, contract_open_time, contract_close_time, is_local_contract, is_archived, updated_at
		FROM order_contracts
		WHERE delivery_area = $1 AND delivery_start >= $2 AND delivery_start < $3 AND is_archived = false`

	rows, err := r.db.QueryxContext(ctx, query, area, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("unarchived contracts: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderContract
	for rows.Next() {
		var c domain.OrderContract
		if err := rows.Scan(&c.ContractID, &c.DeliveryArea, &c.ContractName, &c.DeliveryStart, &c.DeliveryEnd,
			&c.DeliveryDate, &c.ContractOpenTime, &c.ContractCloseTime, &c.IsLocalContract, &c.IsArchived, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
