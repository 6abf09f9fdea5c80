package replay

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/domain"
)

func TestBookFromTicksOrdersAndTieBreak(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ticks := []domain.OrderFlowTick{
		{TickID: "1", ContractID: "C1", OrderID: "B1", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(5), UpdatedTime: base, PriorityTime: base},
		{TickID: "2", ContractID: "C1", OrderID: "B2", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(3), UpdatedTime: base.Add(time.Second), PriorityTime: base.Add(time.Second)},
		{TickID: "3", ContractID: "C1", OrderID: "B3", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(51), Volume: decimal.NewFromInt(1), UpdatedTime: base.Add(2 * time.Second), PriorityTime: base.Add(2 * time.Second)},
		{TickID: "4", ContractID: "C1", OrderID: "A1", Side: domain.TickSell, Type: domain.TickNew, Price: decimal.NewFromFloat(52), Volume: decimal.NewFromInt(4), UpdatedTime: base, PriorityTime: base},
		{TickID: "5", ContractID: "C1", OrderID: "A2", Side: domain.TickSell, Type: domain.TickNew, Price: decimal.NewFromFloat(51), Volume: decimal.NewFromInt(2), UpdatedTime: base.Add(time.Second), PriorityTime: base.Add(time.Second)},
	}

	book := BookFromTicks("C1", base.Add(time.Hour), ticks)

	require.Len(t, book.Bids, 3)
	// Highest price first; among equal prices, earlier priority time first.
	assert.Equal(t, "B3", book.Bids[0].OrderID)
	assert.Equal(t, "B1", book.Bids[1].OrderID)
	assert.Equal(t, "B2", book.Bids[2].OrderID)

	require.Len(t, book.Asks, 2)
	// Lowest price first.
	assert.Equal(t, "A2", book.Asks[0].OrderID)
	assert.Equal(t, "A1", book.Asks[1].OrderID)
}

func TestBookFromTicksDeleteAndNonPositiveVolumeRemove(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ticks := []domain.OrderFlowTick{
		{TickID: "1", ContractID: "C1", OrderID: "B1", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(5), UpdatedTime: base, PriorityTime: base},
		{TickID: "2", ContractID: "C1", OrderID: "B2", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(49), Volume: decimal.NewFromInt(5), UpdatedTime: base, PriorityTime: base},
		{TickID: "3", ContractID: "C1", OrderID: "B1", Side: domain.TickBuy, Type: domain.TickCancel, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(5), UpdatedTime: base.Add(time.Second), PriorityTime: base.Add(time.Second), IsDeleted: true},
		{TickID: "4", ContractID: "C1", OrderID: "B2", Side: domain.TickBuy, Type: domain.TickTrade, Price: decimal.NewFromFloat(49), Volume: decimal.NewFromInt(0), UpdatedTime: base.Add(2 * time.Second), PriorityTime: base.Add(2 * time.Second)},
	}

	book := BookFromTicks("C1", base.Add(time.Hour), ticks)

	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestBookFromTicksUpdateReplacesResting(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticks := []domain.OrderFlowTick{
		{TickID: "1", ContractID: "C1", OrderID: "B1", Side: domain.TickBuy, Type: domain.TickNew, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(5), UpdatedTime: base, PriorityTime: base},
		{TickID: "2", ContractID: "C1", OrderID: "B1", Side: domain.TickBuy, Type: domain.TickUpdate, Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(2), UpdatedTime: base.Add(time.Second), PriorityTime: base.Add(time.Second)},
	}

	book := BookFromTicks("C1", base.Add(time.Hour), ticks)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Volume.Equal(decimal.NewFromInt(2)))
}
