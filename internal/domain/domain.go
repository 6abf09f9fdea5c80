// Package domain holds the canonical records the ingestion platform reads
// and writes: trades, derived candles, order-flow ticks and snapshots,
// contract metadata, and the checkpoints that drive each pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractType classifies a delivery window by its duration.
type ContractType string

const (
	ContractPH    ContractType = "PH"
	ContractQH    ContractType = "QH"
	ContractOther ContractType = "Other"
)

// ClassifyContractType derives a ContractType from the delivery window,
// tolerating a 1-minute wobble around the canonical 60m/15m durations.
func ClassifyContractType(deliveryStart, deliveryEnd time.Time) ContractType {
	d := deliveryEnd.Sub(deliveryStart)
	const tol = time.Minute
	switch {
	case absDuration(d-60*time.Minute) <= tol:
		return ContractPH
	case absDuration(d-15*time.Minute) <= tol:
		return ContractQH
	default:
		return ContractOther
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// TradeSide is BUY, SELL, or Unknown when the upstream payload carries no
// legs for a trade.
type TradeSide string

const (
	SideBuy     TradeSide = "BUY"
	SideSell    TradeSide = "SELL"
	SideUnknown TradeSide = "Unknown"
)

// Trade is one leg of an executed trade in one delivery area. Identity is
// (TradeID, DeliveryArea, TradeSide): the same upstream trade_id recurs
// across areas and sides, and each recurrence is a distinct row.
type Trade struct {
	TradeID       string
	DeliveryArea  string
	TradeSide     TradeSide
	ContractID    string
	ContractName  string
	DeliveryStart time.Time
	DeliveryEnd   time.Time
	DurationMin   float64
	ContractType  ContractType

	Price     decimal.Decimal
	Volume    decimal.Decimal
	TradeTime time.Time

	TradeUpdatedAt   time.Time
	State            string
	RevisionNumber   int64
	Phase            string
	CrossExchange    bool
	ReferenceOrderID string
}

// TradeMutable is the subset of Trade that is replaced on conflict; every
// other field is immutable once a (TradeID, DeliveryArea, TradeSide) row
// exists.
type TradeMutable struct {
	TradeUpdatedAt time.Time
	State          string
	RevisionNumber int64
	Price          decimal.Decimal
	Volume         decimal.Decimal
}

// MarketCandle is a 1-minute OHLCV bucket for (ContractID, Timestamp, Area).
type MarketCandle struct {
	ContractID   string
	Timestamp    time.Time
	Area         string
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       decimal.Decimal
	VWAP         decimal.Decimal
	TradeCount   int64
	ContractType ContractType
}

// TickSide is the resting side of an order in the order-flow stream.
type TickSide string

const (
	TickBuy  TickSide = "BUY"
	TickSell TickSide = "SELL"
)

// TickType is the canonical action derived from the upstream revision
// action string.
type TickType string

const (
	TickNew    TickType = "NEW"
	TickTrade  TickType = "TRADE"
	TickCancel TickType = "CANCEL"
	TickUpdate TickType = "UPDATE"
)

// Aggressor marks which side crossed the spread for a TRADE tick.
type Aggressor string

const (
	AggressorBuy     Aggressor = "BUY"
	AggressorSell    Aggressor = "SELL"
	AggressorUnknown Aggressor = ""
)

// OrderFlowTick is a single order revision, the atomic event of the
// order stream. TickID is a deterministic hash over the identifying
// revision fields, giving at-least-once ingestion at-most-once storage.
type OrderFlowTick struct {
	TickID         string
	ContractID     string
	DeliveryArea   string
	OrderID        string
	Side           TickSide
	Type           TickType
	Price          decimal.Decimal
	Volume         decimal.Decimal
	DeltaVolume    decimal.Decimal
	Aggressor      Aggressor
	UpdatedTime    time.Time
	PriorityTime   time.Time
	IsSnapshot     bool
	IsDeleted      bool
	RevisionNumber int64
	RootUpdatedAt  time.Time
}

// OrderBookLevel is one resting order in a replayed or snapshot book.
type OrderBookLevel struct {
	OrderID      string
	Price        decimal.Decimal
	Volume       decimal.Decimal
	PriorityTime time.Time
}

// OrderBookSnapshot is a full book at one instant, native (from an upstream
// snapshot revision) or synthesized by the replayer.
type OrderBookSnapshot struct {
	SnapshotID     uuid.UUID
	ContractID     string
	Area           string
	Timestamp      time.Time
	RevisionNumber int64
	Bids           []OrderBookLevel
	Asks           []OrderBookLevel
	IsNative       bool
}

// NewSnapshotID mints a fresh snapshot primary key.
func NewSnapshotID() uuid.UUID { return uuid.New() }

// OrderContract is static per-(ContractID, Area) metadata. IsArchived
// flips to true once the full historical revisions payload has been
// persisted for that contract.
type OrderContract struct {
	ContractID        string
	DeliveryArea      string
	ContractName      string
	DeliveryStart     time.Time
	DeliveryEnd       time.Time
	DeliveryDate      time.Time
	ContractOpenTime  time.Time
	ContractCloseTime time.Time
	VolumeUnit        string
	PriceUnit         string
	IsLocalContract   bool
	IsArchived        bool
	UpdatedAt         time.Time
}

// TradeFetchState is the trade ingester's per-area checkpoint.
// LastFetchedTime advances only for the backfill phase; active-window
// refreshes never move it.
type TradeFetchState struct {
	Area            string
	LastFetchedTime time.Time
	Status          string
	LastError       string
	UpdatedAt       time.Time
}

// CandleGenState is the Candle Pipeline's per-area checkpoint.
// LastGeneratedTime means "minutes at or before this instant have been
// considered", whether or not a candle was emitted for them.
type CandleGenState struct {
	Area              string
	LastGeneratedTime time.Time
	UpdatedAt         time.Time
}

// OrderFlowSyncState is the Order-Flow Ingester's per-area checkpoint pair:
// historical archival progress (day granularity) and realtime revision
// stream progress.
type OrderFlowSyncState struct {
	Area             string
	LastArchivedTime time.Time
	LastRealtimeTime time.Time
	Status           string
	LastError        string
	UpdatedAt        time.Time
}

const (
	StatusOK      = "ok"
	StatusRunning = "running"
	StatusWarning = "warning"
	StatusError   = "error"
)

// TruncateError caps an error message to the 500-character bound used
// for persisted ingest error text.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
