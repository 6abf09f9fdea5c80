package coldstore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/domain"
)

func TestWriteReadTickFileRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ticks := []domain.OrderFlowTick{
		{
			TickID:         "b",
			ContractID:     "C1",
			DeliveryArea:   "SE1",
			OrderID:        "O2",
			Side:           domain.TickSell,
			Type:           domain.TickNew,
			Price:          decimal.NewFromFloat(51.25),
			Volume:         decimal.NewFromInt(5),
			DeltaVolume:    decimal.NewFromInt(5),
			UpdatedTime:    date.Add(time.Minute),
			PriorityTime:   date.Add(time.Minute),
			RevisionNumber: 1,
		},
		{
			TickID:         "a",
			ContractID:     "C1",
			DeliveryArea:   "SE1",
			OrderID:        "O1",
			Side:           domain.TickBuy,
			Type:           domain.TickNew,
			Price:          decimal.NewFromFloat(50.5),
			Volume:         decimal.NewFromInt(10),
			DeltaVolume:    decimal.NewFromInt(10),
			UpdatedTime:    date,
			PriorityTime:   date,
			RevisionNumber: 1,
		},
	}

	require.False(t, store.Exists("SE1", date, "C1"))

	require.NoError(t, store.WriteTickFile("SE1", date, "C1", ticks))
	assert.True(t, store.Exists("SE1", date, "C1"))

	got, ok, err := store.ReadTickFile("SE1", date, "C1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)

	// WriteTickFile sorts by UpdatedTime before writing.
	assert.Equal(t, "O1", got[0].OrderID)
	assert.Equal(t, "O2", got[1].OrderID)
	assert.True(t, got[0].Price.Equal(decimal.NewFromFloat(50.5)))
	assert.True(t, got[1].Volume.Equal(decimal.NewFromInt(5)))
}

func TestReadTickFileMissingReturnsNotOK(t *testing.T) {
	store := New(t.TempDir())
	got, ok, err := store.ReadTickFile("SE1", time.Now(), "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}
