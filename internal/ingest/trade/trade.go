// Package trade implements the Trade Ingester: a per-area checkpoint loop
// that backfills settled history in chunks, then continuously re-scans a
// forward-leaning active window where trades are still being revised.
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/metrics"
	"github.com/nordflow/ingest/internal/parse"
	"github.com/nordflow/ingest/internal/store"
	"github.com/nordflow/ingest/internal/upstream"
)

// Trades whose delivery started more than this long ago are treated as
// settled: their rows no longer change upstream, so the backfill
// checkpoint may advance past them.
const safeLineLag = 2 * time.Hour

const (
	defaultBackfillChunk = 12 * time.Hour
	defaultActiveWindow  = 48 * time.Hour
)

// Config carries the knobs one Ingester runs with. Zero durations fall
// back to the defaults above; ColdStart seeds a brand-new area's
// checkpoint.
type Config struct {
	ColdStart     time.Time
	BackfillChunk time.Duration
	ActiveWindow  time.Duration
}

// Ingester fetches and upserts trades for a single area, advancing a
// monotonic backfill checkpoint while re-scanning the active window
// without ever moving that checkpoint forward.
type Ingester struct {
	client *upstream.Client
	store  store.TradeStore
	cp     store.CheckpointStore
	cfg    Config
	met    *metrics.Registry
	log    zerolog.Logger
	now    func() time.Time
}

// New builds an Ingester. met may be nil (no instrumentation); now
// defaults to time.Now and is overridable for deterministic tests.
func New(client *upstream.Client, tradeStore store.TradeStore, cp store.CheckpointStore, cfg Config, met *metrics.Registry, log zerolog.Logger) *Ingester {
	if cfg.BackfillChunk <= 0 {
		cfg.BackfillChunk = defaultBackfillChunk
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = defaultActiveWindow
	}
	return &Ingester{client: client, store: tradeStore, cp: cp, cfg: cfg, met: met, log: log, now: time.Now}
}

// Run executes one tick of the state machine for area: a backfill pass
// (if the checkpoint has not yet reached the safe line) followed by an
// active-window refresh. A backfill chunk failure aborts the area's run;
// an active-window failure only downgrades the persisted status to
// warning, because the same window is re-scanned on the next run anyway.
func (ing *Ingester) Run(ctx context.Context, area string) error {
	now := ing.now().UTC()
	safeLine := now.Add(-safeLineLag)

	state, ok, err := ing.cp.GetTradeFetchState(ctx, area)
	if err != nil {
		return fmt.Errorf("trade ingester: load checkpoint: %w", err)
	}
	if !ok {
		state = domain.TradeFetchState{Area: area, LastFetchedTime: ing.cfg.ColdStart}
	}

	if state.LastFetchedTime.Before(safeLine) {
		if err := ing.backfill(ctx, area, state, safeLine); err != nil {
			return err
		}
		// Re-read: backfill persists its own progress as it goes.
		state, _, err = ing.cp.GetTradeFetchState(ctx, area)
		if err != nil {
			return fmt.Errorf("trade ingester: reload checkpoint: %w", err)
		}
	}

	status := domain.StatusOK
	if err := ing.activeWindow(ctx, area, safeLine, now); err != nil {
		ing.log.Warn().Err(err).Str("area", area).Msg("trade ingester active window refresh failed")
		status = domain.StatusWarning
		state.LastError = domain.TruncateError(err)
	} else {
		state.LastError = ""
	}
	state.Status = status
	if err := ing.cp.SaveTradeFetchState(ctx, state); err != nil {
		return fmt.Errorf("trade ingester: save final status: %w", err)
	}

	if ing.met != nil {
		ing.met.CheckpointLag.WithLabelValues("trade_fetch", area).Set(now.Sub(state.LastFetchedTime).Seconds())
	}
	return nil
}

func (ing *Ingester) backfill(ctx context.Context, area string, state domain.TradeFetchState, safeLine time.Time) error {
	cursor := state.LastFetchedTime
	for cursor.Before(safeLine) {
		chunkEnd := cursor.Add(ing.cfg.BackfillChunk)
		if chunkEnd.After(safeLine) {
			chunkEnd = safeLine
		}

		if err := ing.fetchAndUpsert(ctx, area, cursor, chunkEnd); err != nil {
			state.Status = domain.StatusError
			state.LastError = domain.TruncateError(err)
			if saveErr := ing.cp.SaveTradeFetchState(ctx, state); saveErr != nil {
				ing.log.Error().Err(saveErr).Str("area", area).Msg("trade ingester: failed to persist backfill error state")
			}
			return fmt.Errorf("trade ingester: backfill chunk [%s,%s): %w", cursor, chunkEnd, err)
		}

		cursor = chunkEnd
		state.LastFetchedTime = cursor
		state.Status = domain.StatusRunning
		state.LastError = ""
		if err := ing.cp.SaveTradeFetchState(ctx, state); err != nil {
			return fmt.Errorf("trade ingester: persist backfill progress: %w", err)
		}
	}
	return nil
}

func (ing *Ingester) activeWindow(ctx context.Context, area string, from, now time.Time) error {
	horizon := now.Add(ing.cfg.ActiveWindow)
	cursor := from
	for cursor.Before(horizon) {
		chunkEnd := cursor.Add(ing.cfg.BackfillChunk)
		if chunkEnd.After(horizon) {
			chunkEnd = horizon
		}
		if err := ing.fetchAndUpsert(ctx, area, cursor, chunkEnd); err != nil {
			return fmt.Errorf("active window chunk [%s,%s): %w", cursor, chunkEnd, err)
		}
		cursor = chunkEnd
	}
	return nil
}

func (ing *Ingester) fetchAndUpsert(ctx context.Context, area string, from, to time.Time) error {
	resp, err := ing.client.TradesByDeliveryStart(ctx, area, from, to)
	if err != nil {
		return err
	}
	trades := parse.FlattenTrades(resp)
	if len(trades) == 0 {
		return nil
	}
	if err := ing.store.UpsertTrades(ctx, trades); err != nil {
		return err
	}
	if ing.met != nil {
		ing.met.TradesIngested.WithLabelValues(area).Add(float64(len(trades)))
	}
	return nil
}
