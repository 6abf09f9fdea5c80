// Package parse turns raw upstream JSON into canonical domain records:
// the trade flattener, the two order-flow normalizers (realtime and
// historical), and the deterministic tick-identity hash that makes
// repeated ingestion of the same revision a no-op downstream.
package parse

import (
	"github.com/shopspring/decimal"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/upstream"
)

// FlattenTrades converts one TradesResponse into one domain.Trade per
// (trade, leg) pair, so per-area storage is lossless. When a trade
// carries no legs, a single record with TradeSide=Unknown is emitted
// instead of being dropped.
func FlattenTrades(resp *upstream.TradesResponse) []domain.Trade {
	var out []domain.Trade

	for _, contract := range resp.Contracts {
		deliveryStart, _ := ParseUpstreamTime(contract.DeliveryStart)
		deliveryEnd, _ := ParseUpstreamTime(contract.DeliveryEnd)
		contractType := domain.ClassifyContractType(deliveryStart, deliveryEnd)
		durationMin := deliveryEnd.Sub(deliveryStart).Minutes()

		for _, t := range contract.Trades {
			tradeTime, _ := ParseUpstreamTime(t.TradeTime)
			tradeUpdatedAt, _ := ParseUpstreamTime(t.TradeUpdatedAt)
			price := decimal.NewFromFloat(t.Price)
			volume := decimal.NewFromFloat(t.Volume)

			base := domain.Trade{
				TradeID:        t.TradeID,
				ContractID:     contract.ContractID,
				ContractName:   contract.ContractName,
				DeliveryStart:  deliveryStart,
				DeliveryEnd:    deliveryEnd,
				DurationMin:    durationMin,
				ContractType:   contractType,
				Price:          price,
				Volume:         volume,
				TradeTime:      tradeTime,
				TradeUpdatedAt: tradeUpdatedAt,
				State:          t.TradeState,
				RevisionNumber: t.RevisionNumber,
				Phase:          t.TradePhase,
				CrossExchange:  t.CrossPx,
			}

			if len(t.Legs) == 0 {
				leg := base
				leg.TradeSide = domain.SideUnknown
				out = append(out, leg)
				continue
			}

			for _, l := range t.Legs {
				leg := base
				leg.DeliveryArea = l.DeliveryArea
				leg.ReferenceOrderID = l.ReferenceOrderID
				leg.TradeSide = normalizeSide(l.TradeSide)
				out = append(out, leg)
			}
		}
	}

	return out
}

func normalizeSide(s string) domain.TradeSide {
	switch s {
	case "BUY", "Buy", "buy":
		return domain.SideBuy
	case "SELL", "Sell", "sell":
		return domain.SideSell
	default:
		return domain.SideUnknown
	}
}
