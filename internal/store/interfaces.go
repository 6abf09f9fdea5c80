// Package store defines the persistence contract that every ingester,
// the candle pipeline, the replayer and the read API depend on. The
// Postgres implementation lives in internal/store/postgres; tests
// substitute the in-memory fake in internal/store/memstore.
package store

import (
	"context"
	"time"

	"github.com/nordflow/ingest/internal/domain"
)

// TradeStore upserts trades keyed on (trade_id, delivery_area, trade_side)
// and reads them back for diagnostics and contract listing.
type TradeStore interface {
	UpsertTrades(ctx context.Context, trades []domain.Trade) error
	TradesForContract(ctx context.Context, area, contractID string) ([]domain.Trade, error)
	ContractsOnDate(ctx context.Context, area string, date time.Time) ([]domain.Trade, error)
}

// CandleStore upserts and reads 1-minute OHLCV candles.
type CandleStore interface {
	UpsertCandles(ctx context.Context, candles []domain.MarketCandle) error
	CandlesForContract(ctx context.Context, area, contractID string) ([]domain.MarketCandle, error)
	RecentCandles(ctx context.Context, area, contractID string, n int) ([]domain.MarketCandle, error)
	// AggregateTrades computes per-minute OHLCV for trades in [from, to)
	// for the given area, grouped by (contract_id, minute, contract_type).
	AggregateTrades(ctx context.Context, area string, from, to time.Time) ([]domain.MarketCandle, error)
}

// TickStore inserts order-flow ticks with insert-on-conflict-do-nothing
// semantics and reads them back for the replayer and Read API.
type TickStore interface {
	InsertTicksIgnoreConflict(ctx context.Context, ticks []domain.OrderFlowTick) (inserted int, err error)
	TicksForContract(ctx context.Context, contractID string, upTo time.Time) ([]domain.OrderFlowTick, error)
	TicksInWindow(ctx context.Context, contractID string, from, to time.Time) ([]domain.OrderFlowTick, error)
}

// SnapshotStore bulk-inserts order book snapshots.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, snapshots []domain.OrderBookSnapshot) error
}

// ContractStore upserts and reads contract metadata and archival status.
type ContractStore interface {
	UpsertContracts(ctx context.Context, contracts []domain.OrderContract) error
	MarkContractArchived(ctx context.Context, area, contractID string) error
	UnarchivedContracts(ctx context.Context, area string, date time.Time) ([]domain.OrderContract, error)
}

// CheckpointStore reads and writes the three checkpoint kinds.
type CheckpointStore interface {
	GetTradeFetchState(ctx context.Context, area string) (domain.TradeFetchState, bool, error)
	SaveTradeFetchState(ctx context.Context, state domain.TradeFetchState) error

	GetCandleGenState(ctx context.Context, area string) (domain.CandleGenState, bool, error)
	SaveCandleGenState(ctx context.Context, state domain.CandleGenState) error

	GetOrderFlowSyncState(ctx context.Context, area string) (domain.OrderFlowSyncState, bool, error)
	SaveOrderFlowSyncState(ctx context.Context, state domain.OrderFlowSyncState) error
}

// Store is the full persistence surface. Components depend on the
// narrowest sub-interface they need; Store is what main wires up.
type Store interface {
	TradeStore
	CandleStore
	TickStore
	SnapshotStore
	ContractStore
	CheckpointStore
}
