package parse

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/upstream"
)

// actionToType maps the upstream revision action string to a canonical
// TickType. The false return means "skip this revision".
func actionToType(action string) (domain.TickType, bool) {
	switch action {
	case "PartialExecution", "FullExecution":
		return domain.TickTrade, true
	case "UserAdded":
		return domain.TickNew, true
	case "UserDeleted", "SystemDeleted", "UserHibernated", "SystemHibernated":
		return domain.TickCancel, true
	case "UserModified", "SystemModified":
		return domain.TickUpdate, true
	default:
		return "", false
	}
}

// An execution within 200ms of order creation means the order itself was
// marketable: its own side is the aggressor.
const aggressorWindow = 200 * time.Millisecond

// NormalizeRealtimeRevisions walks a RevisionsResponse (one entry per
// order) and emits one OrderFlowTick per recognized revision, recovering
// per-step delta volume from the running remaining-volume and tagging
// TRADE ticks with the inferred aggressor side.
func NormalizeRealtimeRevisions(resp *upstream.RevisionsResponse, deliveryArea string) []domain.OrderFlowTick {
	var out []domain.OrderFlowTick

	for _, contract := range resp.Contracts {
		for _, order := range contract.Orders {
			side := tickSide(order.Side)
			createdTime, hasCreated := ParseUpstreamTime(order.CreatedTime)

			// Revisions must be walked in revision_number order or the
			// running-remaining-volume recovery below produces garbage.
			revs := append([]upstream.OrderRevision(nil), order.Revisions...)
			sort.Slice(revs, func(i, j int) bool { return revs[i].RevisionNumber < revs[j].RevisionNumber })

			var lastRemaining decimal.Decimal
			haveLast := false

			for _, rev := range revs {
				tickType, ok := actionToType(rev.Action)
				if !ok {
					continue
				}

				updatedTime, _ := ParseUpstreamTime(rev.UpdatedTime)
				priorityTime, hasPriority := ParseUpstreamTime(rev.PriorityTime)
				if !hasPriority {
					priorityTime = updatedTime
				}
				current := decimal.NewFromFloat(rev.Volume)

				var delta decimal.Decimal
				switch tickType {
				case domain.TickNew:
					delta = current
					lastRemaining = current
					haveLast = true
				default:
					if haveLast {
						d := lastRemaining.Sub(current)
						if d.IsNegative() {
							d = decimal.Zero
						}
						delta = d
					} else {
						delta = decimal.Zero
					}
					lastRemaining = current
					haveLast = true
				}

				aggressor := domain.AggressorUnknown
				if tickType == domain.TickTrade {
					aggressor = domain.Aggressor(side)
					if hasCreated && updatedTime.Sub(createdTime) >= aggressorWindow {
						aggressor = opposite(aggressor)
					}
				}

				tick := domain.OrderFlowTick{
					ContractID:     contract.ContractID,
					DeliveryArea:   deliveryArea,
					OrderID:        order.OrderID,
					Side:           side,
					Type:           tickType,
					Price:          decimal.NewFromFloat(rev.Price),
					Volume:         current,
					DeltaVolume:    delta,
					Aggressor:      aggressor,
					UpdatedTime:    updatedTime,
					PriorityTime:   priorityTime,
					IsDeleted:      tickType == domain.TickCancel,
					RevisionNumber: rev.RevisionNumber,
				}
				tick.TickID = TickID(tick.ContractID, tick.DeliveryArea, revisionOrTimestampKey(rev.RevisionNumber, rev.UpdatedTime), tick.OrderID, string(tickType))
				out = append(out, tick)
			}
		}
	}

	return out
}

func opposite(a domain.Aggressor) domain.Aggressor {
	switch a {
	case domain.AggressorBuy:
		return domain.AggressorSell
	case domain.AggressorSell:
		return domain.AggressorBuy
	default:
		return a
	}
}

func tickSide(s string) domain.TickSide {
	switch s {
	case "BUY", "Buy", "buy":
		return domain.TickBuy
	case "SELL", "Sell", "sell":
		return domain.TickSell
	default:
		return domain.TickBuy
	}
}

func revisionOrTimestampKey(revision int64, updatedTime string) string {
	if updatedTime != "" {
		return updatedTime
	}
	return decimal.NewFromInt(revision).String()
}

// HistoricalNormalizeResult separates the two record kinds the historical
// endpoint produces per revision: a full OrderBookSnapshot for snapshot
// revisions, and ticks for the rest. The historical endpoint does not
// disambiguate NEW from MODIFY, so non-snapshot rows become UPDATE or
// CANCEL only.
type HistoricalNormalizeResult struct {
	Ticks     []domain.OrderFlowTick
	Snapshots []domain.OrderBookSnapshot
}

// NormalizeHistoricalRevisions converts one OrderBookResponse (one entry
// per revision, each carrying full buy/sell order lists) into ticks and
// snapshots.
func NormalizeHistoricalRevisions(resp *upstream.OrderBookResponse, area string) HistoricalNormalizeResult {
	var result HistoricalNormalizeResult

	rootUpdatedAt, _ := ParseUpstreamTime(resp.UpdatedAt)

	for _, rev := range resp.Revisions {
		if rev.IsSnapshot {
			snap := domain.OrderBookSnapshot{
				SnapshotID:     domain.NewSnapshotID(),
				ContractID:     resp.ContractID,
				Area:           area,
				RevisionNumber: rev.Revision,
				IsNative:       true,
			}
			snap.Bids = bookOrdersToLevels(rev.BuyOrders)
			snap.Asks = bookOrdersToLevels(rev.SellOrders)
			sortBids(snap.Bids)
			sortAsks(snap.Asks)
			if len(snap.Bids) > 0 {
				snap.Timestamp = snap.Bids[0].PriorityTime
			} else if len(snap.Asks) > 0 {
				snap.Timestamp = snap.Asks[0].PriorityTime
			} else {
				snap.Timestamp = rootUpdatedAt
			}
			result.Snapshots = append(result.Snapshots, snap)
			continue
		}

		result.Ticks = append(result.Ticks, revisionOrdersToTicks(resp.ContractID, area, rev.Revision, rev.BuyOrders, domain.TickBuy, rootUpdatedAt)...)
		result.Ticks = append(result.Ticks, revisionOrdersToTicks(resp.ContractID, area, rev.Revision, rev.SellOrders, domain.TickSell, rootUpdatedAt)...)
	}

	return result
}

func revisionOrdersToTicks(contractID, area string, revision int64, orders []upstream.BookOrder, side domain.TickSide, rootUpdatedAt time.Time) []domain.OrderFlowTick {
	var out []domain.OrderFlowTick
	for _, o := range orders {
		tickType := domain.TickUpdate
		if o.Deleted {
			tickType = domain.TickCancel
		}

		updatedTime, _ := ParseUpstreamTime(o.UpdatedTime)
		priorityTime, hasPriority := ParseUpstreamTime(o.PriorityTime)
		if !hasPriority {
			priorityTime = updatedTime
		}

		tick := domain.OrderFlowTick{
			ContractID:     contractID,
			DeliveryArea:   area,
			OrderID:        o.OrderID,
			Side:           side,
			Type:           tickType,
			Price:          decimal.NewFromFloat(o.Price),
			Volume:         decimal.NewFromFloat(o.Volume),
			UpdatedTime:    updatedTime,
			PriorityTime:   priorityTime,
			IsDeleted:      o.Deleted,
			RevisionNumber: revision,
			RootUpdatedAt:  rootUpdatedAt,
		}
		tick.TickID = TickID(contractID, area, revisionOrTimestampKey(revision, o.UpdatedTime), o.OrderID, string(tickType))
		out = append(out, tick)
	}
	return out
}

func bookOrdersToLevels(orders []upstream.BookOrder) []domain.OrderBookLevel {
	var levels []domain.OrderBookLevel
	for _, o := range orders {
		if o.Deleted {
			continue
		}
		priorityTime, hasPriority := ParseUpstreamTime(o.PriorityTime)
		if !hasPriority {
			priorityTime, _ = ParseUpstreamTime(o.UpdatedTime)
		}
		levels = append(levels, domain.OrderBookLevel{
			OrderID:      o.OrderID,
			Price:        decimal.NewFromFloat(o.Price),
			Volume:       decimal.NewFromFloat(o.Volume),
			PriorityTime: priorityTime,
		})
	}
	return levels
}

func sortBids(levels []domain.OrderBookLevel) {
	sort.Slice(levels, func(i, j int) bool {
		if !levels[i].Price.Equal(levels[j].Price) {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].PriorityTime.Before(levels[j].PriorityTime)
	})
}

func sortAsks(levels []domain.OrderBookLevel) {
	sort.Slice(levels, func(i, j int) bool {
		if !levels[i].Price.Equal(levels[j].Price) {
			return levels[i].Price.LessThan(levels[j].Price)
		}
		return levels[i].PriorityTime.Before(levels[j].PriorityTime)
	})
}

// ParseContracts converts a ContractsResponse into OrderContract metadata
// rows for the archival worklist.
func ParseContracts(resp *upstream.ContractsResponse) []domain.OrderContract {
	var out []domain.OrderContract
	deliveryDate, _ := ParseUpstreamTime(resp.DeliveryDateUtc + "T00:00:00Z")

	for _, c := range resp.Contracts {
		deliveryStart, _ := ParseUpstreamTime(c.DeliveryStart)
		deliveryEnd, _ := ParseUpstreamTime(c.DeliveryEnd)
		openTime, _ := ParseUpstreamTime(c.ContractOpenTime)
		closeTime, _ := ParseUpstreamTime(c.ContractCloseTime)

		out = append(out, domain.OrderContract{
			ContractID:        c.ContractID,
			DeliveryArea:      resp.DeliveryArea,
			ContractName:      c.ContractName,
			DeliveryStart:     deliveryStart,
			DeliveryEnd:       deliveryEnd,
			DeliveryDate:      deliveryDate,
			ContractOpenTime:  openTime,
			ContractCloseTime: closeTime,
			IsLocalContract:   c.IsLocalContract,
		})
	}
	return out
}
