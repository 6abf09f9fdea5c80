// Package memstore is an in-memory store.Store used by unit tests for the
// ingesters, candle pipeline, and replayer, so their control-flow and
// idempotency invariants can be verified without a live Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nordflow/ingest/internal/domain"
)

type tradeKey struct {
	tradeID string
	area    string
	side    domain.TradeSide
}

type candleKey struct {
	contractID string
	ts         time.Time
	area       string
}

// Store is a mutex-guarded, map-backed implementation of store.Store.
type Store struct {
	mu sync.Mutex

	trades    map[tradeKey]domain.Trade
	candles   map[candleKey]domain.MarketCandle
	ticks     map[string]domain.OrderFlowTick
	snapshots []domain.OrderBookSnapshot
	contracts map[[2]string]domain.OrderContract

	tradeFetchState    map[string]domain.TradeFetchState
	candleGenState     map[string]domain.CandleGenState
	orderFlowSyncState map[string]domain.OrderFlowSyncState
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		trades:             map[tradeKey]domain.Trade{},
		candles:            map[candleKey]domain.MarketCandle{},
		ticks:              map[string]domain.OrderFlowTick{},
		contracts:          map[[2]string]domain.OrderContract{},
		tradeFetchState:    map[string]domain.TradeFetchState{},
		candleGenState:     map[string]domain.CandleGenState{},
		orderFlowSyncState: map[string]domain.OrderFlowSyncState{},
	}
}

func (s *Store) UpsertTrades(_ context.Context, trades []domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		k := tradeKey{t.TradeID, t.DeliveryArea, t.TradeSide}
		if existing, ok := s.trades[k]; ok {
			existing.TradeUpdatedAt = t.TradeUpdatedAt
			existing.State = t.State
			existing.RevisionNumber = t.RevisionNumber
			existing.Price = t.Price
			existing.Volume = t.Volume
			s.trades[k] = existing
		} else {
			s.trades[k] = t
		}
	}
	return nil
}

func (s *Store) TradesForContract(_ context.Context, area, contractID string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.DeliveryArea == area && t.ContractID == contractID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeTime.Before(out[j].TradeTime) })
	return out, nil
}

func (s *Store) ContractsOnDate(_ context.Context, area string, date time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	seen := map[string]bool{}
	var out []domain.Trade
	for _, t := range s.trades {
		if t.DeliveryArea != area || t.DeliveryStart.Before(dayStart) || !t.DeliveryStart.Before(dayEnd) {
			continue
		}
		if seen[t.ContractID] {
			continue
		}
		seen[t.ContractID] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out, nil
}

func (s *Store) UpsertCandles(_ context.Context, candles []domain.MarketCandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.candles[candleKey{c.ContractID, c.Timestamp, c.Area}] = c
	}
	return nil
}

func (s *Store) CandlesForContract(_ context.Context, area, contractID string) ([]domain.MarketCandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketCandle
	for _, c := range s.candles {
		if c.Area == area && c.ContractID == contractID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) RecentCandles(ctx context.Context, area, contractID string, n int) ([]domain.MarketCandle, error) {
	all, err := s.CandlesForContract(ctx, area, contractID)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// AggregateTrades computes the same minute-bucket aggregation the
// Postgres SQL does, in-memory, so candle-pipeline tests can run without
// a database.
func (s *Store) AggregateTrades(_ context.Context, area string, from, to time.Time) ([]domain.MarketCandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type bucket struct {
		trades []domain.Trade
	}
	buckets := map[candleKey]*bucket{}
	types := map[candleKey]domain.ContractType{}

	for _, t := range s.trades {
		if t.DeliveryArea != area || t.TradeTime.Before(from) || !t.TradeTime.Before(to) {
			continue
		}
		minute := t.TradeTime.Truncate(time.Minute)
		k := candleKey{t.ContractID, minute, area}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
			types[k] = t.ContractType
		}
		b.trades = append(b.trades, t)
	}

	var out []domain.MarketCandle
	for k, b := range buckets {
		out = append(out, aggregateBucket(k, types[k], b.trades))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractID != out[j].ContractID {
			return out[i].ContractID < out[j].ContractID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func aggregateBucket(k candleKey, ct domain.ContractType, trades []domain.Trade) domain.MarketCandle {
	sort.Slice(trades, func(i, j int) bool { return trades[i].TradeTime.Before(trades[j].TradeTime) })

	c := domain.MarketCandle{
		ContractID:   k.contractID,
		Timestamp:    k.ts,
		Area:         k.area,
		ContractType: ct,
		Open:         trades[0].Price,
		Close:        trades[len(trades)-1].Price,
		High:         trades[0].Price,
		Low:          trades[0].Price,
		TradeCount:   int64(len(trades)),
	}
	var notional = trades[0].Price.Mul(trades[0].Volume)
	c.Volume = trades[0].Volume
	for _, t := range trades[1:] {
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Volume = c.Volume.Add(t.Volume)
		notional = notional.Add(t.Price.Mul(t.Volume))
	}
	if !c.Volume.IsZero() {
		c.VWAP = notional.Div(c.Volume)
	}
	return c
}

func (s *Store) InsertTicksIgnoreConflict(_ context.Context, ticks []domain.OrderFlowTick) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, t := range ticks {
		if _, exists := s.ticks[t.TickID]; exists {
			continue
		}
		s.ticks[t.TickID] = t
		inserted++
	}
	return inserted, nil
}

func (s *Store) TicksForContract(_ context.Context, contractID string, upTo time.Time) ([]domain.OrderFlowTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderFlowTick
	for _, t := range s.ticks {
		if t.ContractID == contractID && !t.UpdatedTime.After(upTo) {
			out = append(out, t)
		}
	}
	sortTicks(out)
	return out, nil
}

func (s *Store) TicksInWindow(_ context.Context, contractID string, from, to time.Time) ([]domain.OrderFlowTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderFlowTick
	for _, t := range s.ticks {
		if t.ContractID == contractID && !t.UpdatedTime.Before(from) && !t.UpdatedTime.After(to) {
			out = append(out, t)
		}
	}
	sortTicks(out)
	return out, nil
}

func sortTicks(ticks []domain.OrderFlowTick) {
	sort.Slice(ticks, func(i, j int) bool {
		if !ticks[i].UpdatedTime.Equal(ticks[j].UpdatedTime) {
			return ticks[i].UpdatedTime.Before(ticks[j].UpdatedTime)
		}
		return ticks[i].RevisionNumber < ticks[j].RevisionNumber
	})
}

func (s *Store) InsertSnapshots(_ context.Context, snapshots []domain.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *Store) UpsertContracts(_ context.Context, contracts []domain.OrderContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contracts {
		k := [2]string{c.ContractID, c.DeliveryArea}
		if existing, ok := s.contracts[k]; ok {
			existing.ContractName = c.ContractName
			existing.ContractOpenTime = c.ContractOpenTime
			existing.ContractCloseTime = c.ContractCloseTime
			s.contracts[k] = existing
		} else {
			s.contracts[k] = c
		}
	}
	return nil
}

func (s *Store) MarkContractArchived(_ context.Context, area, contractID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]string{contractID, area}
	c := s.contracts[k]
	c.IsArchived = true
	s.contracts[k] = c
	return nil
}

func (s *Store) UnarchivedContracts(_ context.Context, area string, date time.Time) ([]domain.OrderContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	var out []domain.OrderContract
	for _, c := range s.contracts {
		if c.DeliveryArea == area && !c.IsArchived && !c.DeliveryStart.Before(dayStart) && c.DeliveryStart.Before(dayEnd) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out, nil
}

func (s *Store) GetTradeFetchState(_ context.Context, area string) (domain.TradeFetchState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tradeFetchState[area]
	return st, ok, nil
}

func (s *Store) SaveTradeFetchState(_ context.Context, state domain.TradeFetchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeFetchState[state.Area] = state
	return nil
}

func (s *Store) GetCandleGenState(_ context.Context, area string) (domain.CandleGenState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.candleGenState[area]
	return st, ok, nil
}

func (s *Store) SaveCandleGenState(_ context.Context, state domain.CandleGenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candleGenState[state.Area] = state
	return nil
}

func (s *Store) GetOrderFlowSyncState(_ context.Context, area string) (domain.OrderFlowSyncState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orderFlowSyncState[area]
	return st, ok, nil
}

func (s *Store) SaveOrderFlowSyncState(_ context.Context, state domain.OrderFlowSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderFlowSyncState[state.Area] = state
	return nil
}

// TradeCount exposes the number of stored trades for test assertions.
func (s *Store) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

// TickCount exposes the number of stored ticks for test assertions.
func (s *Store) TickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}
