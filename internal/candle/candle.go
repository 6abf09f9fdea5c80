// Package candle implements the Candle Pipeline: minute-bucketed OHLCV
// generation gated on the Trade Ingester's checkpoint so a minute is never
// materialized before its trades are considered complete.
package candle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/store"
)

const chunkSize = 6 * time.Hour

// Pipeline generates and upserts candles for one area per Run call.
type Pipeline struct {
	store     store.CandleStore
	cp        store.CheckpointStore
	log       zerolog.Logger
	now       func() time.Time
	coldStart time.Time
}

// New builds a Pipeline. coldStart seeds a brand-new area's candle
// checkpoint.
func New(candleStore store.CandleStore, cp store.CheckpointStore, log zerolog.Logger, coldStart time.Time) *Pipeline {
	return &Pipeline{store: candleStore, cp: cp, log: log, now: time.Now, coldStart: coldStart}
}

// Run advances the candle checkpoint for area, gated on the trade
// checkpoint red-light.
func (p *Pipeline) Run(ctx context.Context, area string) error {
	now := p.now().UTC()

	tradeState, ok, err := p.cp.GetTradeFetchState(ctx, area)
	if err != nil {
		return fmt.Errorf("candle pipeline: load trade checkpoint: %w", err)
	}
	if !ok {
		p.log.Debug().Str("area", area).Msg("candle pipeline: no trade checkpoint yet, skipping")
		return nil
	}

	candleState, ok, err := p.cp.GetCandleGenState(ctx, area)
	if err != nil {
		return fmt.Errorf("candle pipeline: load candle checkpoint: %w", err)
	}
	if !ok {
		candleState = domain.CandleGenState{Area: area, LastGeneratedTime: p.coldStart}
	}

	safeEnd := tradeState.LastFetchedTime
	if now.Before(safeEnd) {
		safeEnd = now
	}

	cursor := candleState.LastGeneratedTime.Add(time.Minute)
	if !cursor.Before(safeEnd) {
		return nil
	}

	for cursor.Before(safeEnd) {
		chunkEnd := cursor.Add(chunkSize)
		if chunkEnd.After(safeEnd) {
			chunkEnd = safeEnd
		}

		candles, err := p.store.AggregateTrades(ctx, area, cursor, chunkEnd)
		if err != nil {
			return fmt.Errorf("candle pipeline: aggregate [%s,%s): %w", cursor, chunkEnd, err)
		}
		if len(candles) > 0 {
			if err := p.store.UpsertCandles(ctx, candles); err != nil {
				return fmt.Errorf("candle pipeline: upsert [%s,%s): %w", cursor, chunkEnd, err)
			}
		}

		// The checkpoint advances regardless of whether the chunk produced
		// any rows: an empty minute is still a considered minute.
		candleState.LastGeneratedTime = chunkEnd
		if err := p.cp.SaveCandleGenState(ctx, candleState); err != nil {
			return fmt.Errorf("candle pipeline: persist checkpoint: %w", err)
		}

		cursor = chunkEnd
	}

	return nil
}
