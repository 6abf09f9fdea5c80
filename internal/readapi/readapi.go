// Package readapi implements the four read-only operations external
// callers use: contract listing, candle series, raw trades, and tick
// windows. Contract listing and candle series are cache-aside over Redis
// (or the in-process fallback); trades and ticks are read uncached. Each
// returns an explicit empty envelope rather than a bare nil/zero-value so
// callers can distinguish "no data" from "not fetched yet".
package readapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nordflow/ingest/internal/cache"
	"github.com/nordflow/ingest/internal/coldstore"
	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/replay"
	"github.com/nordflow/ingest/internal/store"
	"github.com/nordflow/ingest/internal/tradingwindow"
)

const defaultTTL = 30 * time.Second

// API serves the read-only query surface over a Store, a cold tick store,
// and a cache-aside layer.
type API struct {
	store store.Store
	cold  *coldstore.Store
	cache cache.Cache
	ttl   time.Duration
}

// New builds an API. ttl of 0 uses the default cache TTL.
func New(st store.Store, cold *coldstore.Store, c cache.Cache, ttl time.Duration) *API {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &API{store: st, cold: cold, cache: c, ttl: ttl}
}

// ContractListing is one row of list_contracts_on_date.
type ContractListing struct {
	ContractID    string              `json:"contract_id"`
	Label         string              `json:"label"`
	Type          domain.ContractType `json:"type"`
	DeliveryStart time.Time           `json:"delivery_time"`
	DeliveryEnd   time.Time           `json:"delivery_end"`
	OpenTS        time.Time           `json:"open_ts"`
	CloseTS       time.Time           `json:"close_ts"`
}

// CandlePoint is one row of candles_for_contract, decimals rendered as
// strings so JSON consumers never lose precision through a float.
type CandlePoint struct {
	Time   int64  `json:"time"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	VWAP   string `json:"vwap"`
}

// Envelope wraps a possibly-empty result list so "no rows" is explicit in
// the wire shape rather than an ambiguous empty array.
type Envelope[T any] struct {
	Status string `json:"status"`
	Items  []T    `json:"items"`
}

func envelope[T any](items []T) Envelope[T] {
	if len(items) == 0 {
		return Envelope[T]{Status: "empty", Items: []T{}}
	}
	return Envelope[T]{Status: "ok", Items: items}
}

// ListContractsOnDate returns contracts delivering on date in area whose
// delivery window is ~60 or ~15 minutes (PH/QH), each with its computed
// trading window.
func (a *API) ListContractsOnDate(ctx context.Context, area string, date time.Time) (Envelope[ContractListing], error) {
	key := fmt.Sprintf("contracts:%s:%s", area, date.UTC().Format("2006-01-02"))
	if cached, ok := a.getCached(ctx, key); ok {
		var out Envelope[ContractListing]
		if json.Unmarshal(cached, &out) == nil {
			return out, nil
		}
	}

	trades, err := a.store.ContractsOnDate(ctx, area, date)
	if err != nil {
		return Envelope[ContractListing]{}, fmt.Errorf("readapi: list contracts: %w", err)
	}

	var listings []ContractListing
	for _, t := range trades {
		if t.ContractType != domain.ContractPH && t.ContractType != domain.ContractQH {
			continue
		}
		open, close := tradingwindow.Window(t.DeliveryStart)
		listings = append(listings, ContractListing{
			ContractID:    t.ContractID,
			Label:         t.ContractName,
			Type:          t.ContractType,
			DeliveryStart: t.DeliveryStart,
			DeliveryEnd:   t.DeliveryEnd,
			OpenTS:        open,
			CloseTS:       close,
		})
	}

	env := envelope(listings)
	a.setCached(ctx, key, env)
	return env, nil
}

// CandlesForContract returns the full candle series for (area, contractID).
func (a *API) CandlesForContract(ctx context.Context, area, contractID string) (Envelope[CandlePoint], error) {
	key := fmt.Sprintf("candles:%s:%s", area, contractID)
	if cached, ok := a.getCached(ctx, key); ok {
		var out Envelope[CandlePoint]
		if json.Unmarshal(cached, &out) == nil {
			return out, nil
		}
	}

	candles, err := a.store.CandlesForContract(ctx, area, contractID)
	if err != nil {
		return Envelope[CandlePoint]{}, fmt.Errorf("readapi: candles for contract: %w", err)
	}

	points := make([]CandlePoint, 0, len(candles))
	for _, c := range candles {
		points = append(points, CandlePoint{
			Time:   c.Timestamp.Unix(),
			Open:   c.Open.String(),
			High:   c.High.String(),
			Low:    c.Low.String(),
			Close:  c.Close.String(),
			Volume: c.Volume.String(),
			VWAP:   c.VWAP.String(),
		})
	}

	env := envelope(points)
	a.setCached(ctx, key, env)
	return env, nil
}

// TradesForContract returns raw trade rows for (area, contractID); this is
// a diagnostic path and is not cached, since consumers use it to inspect
// current ingestion state rather than stable history.
func (a *API) TradesForContract(ctx context.Context, area, contractID string) (Envelope[domain.Trade], error) {
	trades, err := a.store.TradesForContract(ctx, area, contractID)
	if err != nil {
		return Envelope[domain.Trade]{}, fmt.Errorf("readapi: trades for contract: %w", err)
	}
	return envelope(trades), nil
}

// ReadTicks returns ticks for contractID in [t0, t1], preferring a cold
// file for (area, date, contractID) when one exists and falling back to
// the hot store otherwise.
func (a *API) ReadTicks(ctx context.Context, area, contractID string, t0, t1 time.Time) (Envelope[domain.OrderFlowTick], error) {
	if cold, found, err := a.cold.ReadTickFile(area, t0, contractID); err != nil {
		return Envelope[domain.OrderFlowTick]{}, fmt.Errorf("readapi: read cold ticks: %w", err)
	} else if found {
		filtered := make([]domain.OrderFlowTick, 0, len(cold))
		for _, t := range cold {
			if !t.UpdatedTime.Before(t0) && !t.UpdatedTime.After(t1) {
				filtered = append(filtered, t)
			}
		}
		return envelope(filtered), nil
	}

	ticks, err := a.store.TicksInWindow(ctx, contractID, t0, t1)
	if err != nil {
		return Envelope[domain.OrderFlowTick]{}, fmt.Errorf("readapi: read hot ticks: %w", err)
	}
	return envelope(ticks), nil
}

// BookAt is a convenience wrapper exposing the replayer through the same
// API surface external callers use for everything else.
func (a *API) BookAt(ctx context.Context, contractID string, targetTime time.Time) (domain.OrderBookSnapshot, error) {
	return replay.New(a.store).Book(ctx, contractID, targetTime)
}

func (a *API) getCached(ctx context.Context, key string) ([]byte, bool) {
	if a.cache == nil {
		return nil, false
	}
	return a.cache.Get(ctx, key)
}

func (a *API) setCached(ctx context.Context, key string, v any) {
	if a.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	a.cache.Set(ctx, key, b, a.ttl)
}
