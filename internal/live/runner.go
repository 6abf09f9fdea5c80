package live

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/store"
)

const (
	candleLookback = 100
	tickLookback   = time.Hour
)

// Runner drives one area's Engine through the load -> strategy step ->
// execution step -> persist heartbeat, loading its state file lazily on
// the first Tick.
type Runner struct {
	area      string
	mode      string
	stateFile string
	candles   store.CandleStore
	ticks     store.TickStore
	strategy  StrategyAdapter
	log       zerolog.Logger
	now       func() time.Time

	engine *Engine
}

// NewRunner builds a Runner. stateFile is the on-disk JSON path this area's
// book is persisted to between invocations.
func NewRunner(area, mode, stateFile string, candles store.CandleStore, ticks store.TickStore, strategy StrategyAdapter, log zerolog.Logger) *Runner {
	return &Runner{area: area, mode: mode, stateFile: stateFile, candles: candles, ticks: ticks, strategy: strategy, log: log, now: time.Now}
}

// Tick runs one heartbeat: load state if not already in memory, feed the
// latest candle to the strategy, replay the last hour of ticks through the
// matcher, then persist.
func (r *Runner) Tick(ctx context.Context, contractID string) error {
	if r.engine == nil {
		if err := r.load(); err != nil {
			return fmt.Errorf("live runner: load state: %w", err)
		}
	}

	if err := r.runStrategyStep(ctx, contractID); err != nil {
		r.log.Warn().Err(err).Str("area", r.area).Msg("live runner: strategy step failed")
	}
	if err := r.runExecutionStep(ctx, contractID); err != nil {
		r.log.Warn().Err(err).Str("area", r.area).Msg("live runner: execution step failed")
	}

	return r.save()
}

func (r *Runner) runStrategyStep(ctx context.Context, contractID string) error {
	candles, err := r.candles.RecentCandles(ctx, r.area, contractID, candleLookback)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}
	latest := candles[len(candles)-1]
	r.engine.OnCandle(latest, r.strategy)
	return nil
}

func (r *Runner) runExecutionStep(ctx context.Context, contractID string) error {
	now := r.now().UTC()
	from := now.Add(-tickLookback)

	ticks, err := r.ticks.TicksInWindow(ctx, contractID, from, now)
	if err != nil {
		return fmt.Errorf("fetch ticks: %w", err)
	}
	for _, t := range ticks {
		r.engine.OnTick(t, r.strategy)
	}
	return nil
}

func (r *Runner) load() error {
	r.engine = NewEngine(r.area, r.mode)

	data, err := os.ReadFile(r.stateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var e Engine
	if err := json.Unmarshal(data, &e); err != nil {
		r.log.Error().Err(err).Str("area", r.area).Msg("live runner: state file unreadable, starting fresh")
		return nil
	}
	e.Area = r.area
	e.Mode = r.mode
	r.engine = &e
	r.log.Info().Str("area", r.area).Str("position", e.Position.String()).Str("cash", e.Cash.String()).Msg("live runner: state restored")
	return nil
}

func (r *Runner) save() error {
	r.engine.UpdatedAt = r.now().UTC()

	if err := os.MkdirAll(filepath.Dir(r.stateFile), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(r.engine, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := r.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, r.stateFile)
}

// Snapshot returns the current in-memory book, e.g. for a status endpoint.
func (r *Runner) Snapshot() *Engine {
	return r.engine
}
