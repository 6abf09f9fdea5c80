// Package replay reconstructs an order book at a point in time by folding
// the order-flow tick log, the event-sourced counterpart of the hot/cold
// tick storage the order-flow ingester writes.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/store"
)

// Replayer reconstructs order books from the tick store.
type Replayer struct {
	ticks store.TickStore
}

// New builds a Replayer over the given tick store.
func New(ticks store.TickStore) *Replayer {
	return &Replayer{ticks: ticks}
}

type activeOrder struct {
	side         domain.TickSide
	price        domain.OrderBookLevel
	priorityTime time.Time
}

// Book reconstructs the order book for contractID as of targetTime.
// Snapshot revisions are not a reset point here: the historical
// normalizer routes them to a separate table, so replay only ever sees
// per-order events.
func (r *Replayer) Book(ctx context.Context, contractID string, targetTime time.Time) (domain.OrderBookSnapshot, error) {
	ticks, err := r.ticks.TicksForContract(ctx, contractID, targetTime)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("replay: load ticks: %w", err)
	}

	// TicksForContract already orders by (updated_time, revision_number);
	// re-sort defensively so the fold does not depend on the store's
	// ordering.
	sort.Slice(ticks, func(i, j int) bool {
		if !ticks[i].UpdatedTime.Equal(ticks[j].UpdatedTime) {
			return ticks[i].UpdatedTime.Before(ticks[j].UpdatedTime)
		}
		return ticks[i].RevisionNumber < ticks[j].RevisionNumber
	})

	return BookFromTicks(contractID, targetTime, ticks), nil
}

// BookFromTicks folds an already-loaded, already-sorted tick slice into a
// book; it does not sort. Exported so tests can exercise the fold
// without a store round-trip.
func BookFromTicks(contractID string, targetTime time.Time, ticks []domain.OrderFlowTick) domain.OrderBookSnapshot {
	active := map[string]activeOrder{}

	for _, t := range ticks {
		if t.IsDeleted || !t.Volume.IsPositive() {
			delete(active, t.OrderID)
			continue
		}
		priority := t.PriorityTime
		if priority.IsZero() {
			priority = t.UpdatedTime
		}
		active[t.OrderID] = activeOrder{
			side: t.Side,
			price: domain.OrderBookLevel{
				OrderID:      t.OrderID,
				Price:        t.Price,
				Volume:       t.Volume,
				PriorityTime: priority,
			},
			priorityTime: priority,
		}
	}

	var bids, asks []domain.OrderBookLevel
	for _, o := range active {
		switch o.side {
		case domain.TickBuy:
			bids = append(bids, o.price)
		case domain.TickSell:
			asks = append(asks, o.price)
		}
	}

	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].Price.Equal(bids[j].Price) {
			return bids[i].Price.GreaterThan(bids[j].Price)
		}
		return bids[i].PriorityTime.Before(bids[j].PriorityTime)
	})
	sort.Slice(asks, func(i, j int) bool {
		if !asks[i].Price.Equal(asks[j].Price) {
			return asks[i].Price.LessThan(asks[j].Price)
		}
		return asks[i].PriorityTime.Before(asks[j].PriorityTime)
	})

	return domain.OrderBookSnapshot{
		ContractID: contractID,
		Timestamp:  targetTime,
		Bids:       bids,
		Asks:       asks,
		IsNative:   false,
	}
}
