package live

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/store/memstore"
)

type buyOnceStrategy struct{ placed bool }

func (s *buyOnceStrategy) OnCandle(_ domain.MarketCandle, eng *Engine) {
	if !s.placed {
		eng.PlaceOrder(decimal.NewFromInt(2), OrderMarket, nil, "test entry", 0)
		s.placed = true
	}
}

func (s *buyOnceStrategy) OnTick(domain.OrderFlowTick, *Engine) {}

func TestTickPersistsStateFileAndRestoresIt(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ms.UpsertCandles(ctx, []domain.MarketCandle{{
		ContractID: "C1", Area: "SE1", Timestamp: now.Add(-time.Minute),
		Open: decimal.NewFromInt(50), High: decimal.NewFromInt(51),
		Low: decimal.NewFromInt(49), Close: decimal.NewFromInt(50),
		Volume: decimal.NewFromInt(100),
	}}))
	_, err := ms.InsertTicksIgnoreConflict(ctx, []domain.OrderFlowTick{{
		TickID: "t1", ContractID: "C1", Type: domain.TickTrade,
		Price: decimal.NewFromInt(50), Volume: decimal.NewFromInt(10),
		UpdatedTime: now.Add(-30 * time.Minute),
	}})
	require.NoError(t, err)

	stateFile := filepath.Join(t.TempDir(), "SE1.json")
	r := NewRunner("SE1", "PAPER", stateFile, ms, ms, &buyOnceStrategy{}, zerolog.Nop())
	r.now = func() time.Time { return now }

	require.NoError(t, r.Tick(ctx, "C1"))

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	var persisted map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Contains(t, persisted, "cash")
	assert.Contains(t, persisted, "position")
	assert.Contains(t, persisted, "_updated_at")

	// A fresh Runner over the same file restores the book.
	r2 := NewRunner("SE1", "PAPER", stateFile, ms, ms, nil, zerolog.Nop())
	r2.now = func() time.Time { return now.Add(time.Minute) }
	require.NoError(t, r2.Tick(ctx, "C1"))

	snap := r2.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "SE1", snap.Area)
	assert.Equal(t, "PAPER", snap.Mode)
}

func TestTickStartsFreshWhenStateFileMissing(t *testing.T) {
	ms := memstore.New()
	stateFile := filepath.Join(t.TempDir(), "SE1.json")
	r := NewRunner("SE1", "REPLAY", stateFile, ms, ms, nil, zerolog.Nop())

	require.NoError(t, r.Tick(context.Background(), "C1"))

	snap := r.Snapshot()
	require.NotNil(t, snap)
	assert.True(t, snap.Cash.IsZero())
	assert.True(t, snap.Position.IsZero())
	assert.FileExists(t, stateFile)
}
