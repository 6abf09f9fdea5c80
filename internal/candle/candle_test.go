package candle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/store/memstore"
)

func TestRunSkipsWhenNoTradeCheckpoint(t *testing.T) {
	ms := memstore.New()
	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(ms, ms, zerolog.Nop(), coldStart)

	require.NoError(t, p.Run(context.Background(), "SE1"))

	_, ok, err := ms.GetCandleGenState(context.Background(), "SE1")
	require.NoError(t, err)
	assert.False(t, ok, "candle checkpoint should not be created without a trade checkpoint")
}

func TestRunAdvancesCheckpointEvenWithNoTrades(t *testing.T) {
	ms := memstore.New()
	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	now := coldStart.Add(10 * time.Hour)
	require.NoError(t, ms.SaveTradeFetchState(ctx, domain.TradeFetchState{Area: "SE1", LastFetchedTime: now}))

	p := New(ms, ms, zerolog.Nop(), coldStart)
	p.now = func() time.Time { return now.Add(time.Hour) }

	require.NoError(t, p.Run(ctx, "SE1"))

	state, ok, err := ms.GetCandleGenState(ctx, "SE1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now, state.LastGeneratedTime, "checkpoint should advance to safe_end even with zero candles produced")
}

func TestRunGeneratesCandlesFromTrades(t *testing.T) {
	ms := memstore.New()
	coldStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tradeTime := coldStart.Add(time.Minute)
	require.NoError(t, ms.UpsertTrades(ctx, []domain.Trade{
		{
			TradeID: "T1", DeliveryArea: "SE1", TradeSide: domain.SideBuy,
			ContractID: "C1", TradeTime: tradeTime,
			Price: decimal.NewFromFloat(50), Volume: decimal.NewFromInt(2),
			ContractType: domain.ContractPH,
		},
		{
			TradeID: "T2", DeliveryArea: "SE1", TradeSide: domain.SideSell,
			ContractID: "C1", TradeTime: tradeTime.Add(10 * time.Second),
			Price: decimal.NewFromFloat(52), Volume: decimal.NewFromInt(1),
			ContractType: domain.ContractPH,
		},
	}))

	safeEnd := coldStart.Add(2 * time.Hour)
	require.NoError(t, ms.SaveTradeFetchState(ctx, domain.TradeFetchState{Area: "SE1", LastFetchedTime: safeEnd}))

	p := New(ms, ms, zerolog.Nop(), coldStart)
	p.now = func() time.Time { return safeEnd.Add(time.Hour) }

	require.NoError(t, p.Run(ctx, "SE1"))

	candles, err := ms.CandlesForContract(ctx, "SE1", "C1")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	c := candles[0]
	assert.True(t, c.Open.Equal(decimal.NewFromFloat(50)))
	assert.True(t, c.Close.Equal(decimal.NewFromFloat(52)))
	assert.True(t, c.High.Equal(decimal.NewFromFloat(52)))
	assert.True(t, c.Low.Equal(decimal.NewFromFloat(50)))
	assert.True(t, c.Volume.Equal(decimal.NewFromInt(3)))
	wantVWAP := decimal.NewFromInt(152).Div(decimal.NewFromInt(3))
	assert.True(t, c.VWAP.Equal(wantVWAP), "vwap must be sum(p*v)/sum(v), got %s", c.VWAP)
	assert.Equal(t, int64(2), c.TradeCount)

	state, ok, err := ms.GetCandleGenState(ctx, "SE1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, safeEnd, state.LastGeneratedTime)
}
