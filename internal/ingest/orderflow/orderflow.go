// Package orderflow implements the Order-Flow Ingester's two cooperating
// flows: day-by-day historical archival with hot/cold routing, and the
// realtime revision stream with its overlap window. Within one scheduled
// invocation the historical pass runs first, then the realtime pass.
package orderflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/async"
	"github.com/nordflow/ingest/internal/coldstore"
	"github.com/nordflow/ingest/internal/domain"
	"github.com/nordflow/ingest/internal/metrics"
	"github.com/nordflow/ingest/internal/parse"
	"github.com/nordflow/ingest/internal/store"
	"github.com/nordflow/ingest/internal/upstream"
)

const (
	realtimeOverlap      = 1 * time.Minute
	realtimeFloorLag     = 48 * time.Hour
	realtimeSkewResetLag = 2 * time.Hour

	defaultArchiveDelay    = 48 * time.Hour
	defaultHotColdBoundary = 7 * 24 * time.Hour
	defaultRevisionChunk   = 4 * time.Hour
	defaultWorkers         = 10
)

// FlowStore is the slice of the persistence surface the ingester writes
// through: hot ticks, native snapshots, and contract archival state.
type FlowStore interface {
	store.TickStore
	store.SnapshotStore
	store.ContractStore
}

// Config carries the knobs one Ingester runs with. Zero values fall back
// to the defaults above; ColdStart seeds a brand-new area's checkpoints.
type Config struct {
	ColdStart       time.Time
	ArchiveDelay    time.Duration
	HotColdBoundary time.Duration
	RevisionChunk   time.Duration
	Workers         int
}

// Ingester runs both the historical archival loop and the realtime
// revision stream for one area.
type Ingester struct {
	client *upstream.Client
	store  FlowStore
	cp     store.CheckpointStore
	cold   *coldstore.Store
	cfg    Config
	met    *metrics.Registry
	log    zerolog.Logger
	now    func() time.Time
}

// New builds an Ingester. met may be nil.
func New(client *upstream.Client, st FlowStore, cp store.CheckpointStore, cold *coldstore.Store, cfg Config, met *metrics.Registry, log zerolog.Logger) *Ingester {
	if cfg.ArchiveDelay <= 0 {
		cfg.ArchiveDelay = defaultArchiveDelay
	}
	if cfg.HotColdBoundary <= 0 {
		cfg.HotColdBoundary = defaultHotColdBoundary
	}
	if cfg.RevisionChunk <= 0 {
		cfg.RevisionChunk = defaultRevisionChunk
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Ingester{client: client, store: st, cp: cp, cold: cold, cfg: cfg, met: met, log: log, now: time.Now}
}

// Run executes one scheduled invocation for area: the historical archival
// pass first, then the realtime revision stream. A historical failure does
// not block the realtime pass; both errors are reported.
func (ing *Ingester) Run(ctx context.Context, area string) error {
	histErr := ing.RunHistorical(ctx, area)
	rtErr := ing.RunRealtime(ctx, area)
	return errors.Join(histErr, rtErr)
}

// RunHistorical advances the historical archival loop day by day until it
// catches up to archive_limit or a day fails to archive completely. The
// day pointer only moves once every contract of that day is archived, so
// a partially failed day is retried (failed contracts only) on the next
// invocation.
func (ing *Ingester) RunHistorical(ctx context.Context, area string) error {
	now := ing.now().UTC()
	archiveLimit := now.Add(-ing.cfg.ArchiveDelay)
	hotColdThreshold := now.Add(-ing.cfg.HotColdBoundary)

	state, ok, err := ing.cp.GetOrderFlowSyncState(ctx, area)
	if err != nil {
		return fmt.Errorf("orderflow historical: load checkpoint: %w", err)
	}
	if !ok {
		state = domain.OrderFlowSyncState{Area: area, LastArchivedTime: ing.cfg.ColdStart, LastRealtimeTime: ing.cfg.ColdStart}
	}

	for {
		day := time.Date(state.LastArchivedTime.Year(), state.LastArchivedTime.Month(), state.LastArchivedTime.Day(), 0, 0, 0, 0, time.UTC)
		if !day.Before(archiveLimit) {
			return nil
		}

		if err := ing.archiveDay(ctx, area, day, hotColdThreshold); err != nil {
			state.Status = domain.StatusWarning
			state.LastError = domain.TruncateError(err)
			if saveErr := ing.cp.SaveOrderFlowSyncState(ctx, state); saveErr != nil {
				ing.log.Error().Err(saveErr).Str("area", area).Msg("orderflow historical: failed to persist error state")
			}
			return err
		}

		remaining, err := ing.store.UnarchivedContracts(ctx, area, day)
		if err != nil {
			return fmt.Errorf("orderflow historical: recheck unarchived: %w", err)
		}
		if ing.met != nil {
			ing.met.ArchivalBacklog.WithLabelValues(area).Set(float64(len(remaining)))
		}
		if len(remaining) > 0 {
			ing.log.Warn().Str("area", area).Time("day", day).Int("remaining", len(remaining)).Msg("orderflow historical: day not fully archived, retrying next run")
			return nil
		}

		state.LastArchivedTime = day.AddDate(0, 0, 1)
		state.Status = domain.StatusOK
		state.LastError = ""
		if err := ing.cp.SaveOrderFlowSyncState(ctx, state); err != nil {
			return fmt.Errorf("orderflow historical: advance day pointer: %w", err)
		}
	}
}

func (ing *Ingester) archiveDay(ctx context.Context, area string, day time.Time, hotColdThreshold time.Time) error {
	contractsResp, err := ing.client.ContractsByArea(ctx, area, day)
	if err != nil {
		return fmt.Errorf("fetch contracts for day: %w", err)
	}
	contracts := parse.ParseContracts(contractsResp)
	if err := ing.store.UpsertContracts(ctx, contracts); err != nil {
		return fmt.Errorf("upsert contract metadata: %w", err)
	}

	targets, err := ing.store.UnarchivedContracts(ctx, area, day)
	if err != nil {
		return fmt.Errorf("list unarchived contracts: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	cold := day.Before(hotColdThreshold)

	// Each contract is submitted exactly once, so no two workers ever
	// write the same cold file path.
	pool := async.NewWorkerPool(ing.cfg.Workers, len(targets), ing.log)
	pool.Start(ctx)
	for _, c := range targets {
		c := c
		err := pool.Submit(c.ContractID, func(ctx context.Context) error {
			if err := ing.archiveContract(ctx, area, day, c, cold); err != nil {
				ing.log.Error().Err(err).Str("area", area).Str("contract_id", c.ContractID).Msg("orderflow historical: worker failed, contract remains unarchived")
				return err
			}
			return nil
		})
		if err != nil {
			ing.log.Error().Err(err).Str("area", area).Str("contract_id", c.ContractID).Msg("orderflow historical: submit failed, contract remains unarchived")
		}
	}
	pool.Drain()
	return nil
}

func (ing *Ingester) archiveContract(ctx context.Context, area string, day time.Time, contract domain.OrderContract, cold bool) error {
	resp, err := ing.client.OrderBookByContractID(ctx, area, contract.ContractID, day)
	if err != nil {
		return fmt.Errorf("fetch revisions: %w", err)
	}
	result := parse.NormalizeHistoricalRevisions(resp, area)

	if cold {
		// A file left by a run that crashed before MarkContractArchived is
		// complete (writes are atomic), so the retry skips the re-write.
		if !ing.cold.Exists(area, day, contract.ContractID) {
			if err := ing.cold.WriteTickFile(area, day, contract.ContractID, result.Ticks); err != nil {
				return fmt.Errorf("write cold file: %w", err)
			}
			if ing.met != nil {
				ing.met.TicksIngested.WithLabelValues(area, "cold").Add(float64(len(result.Ticks)))
			}
		}
	} else if len(result.Ticks) > 0 {
		n, err := ing.store.InsertTicksIgnoreConflict(ctx, result.Ticks)
		if err != nil {
			return fmt.Errorf("insert hot ticks: %w", err)
		}
		if ing.met != nil {
			ing.met.TicksIngested.WithLabelValues(area, "hot").Add(float64(n))
		}
	}
	if len(result.Snapshots) > 0 {
		if err := ing.store.InsertSnapshots(ctx, result.Snapshots); err != nil {
			return fmt.Errorf("insert snapshots: %w", err)
		}
	}

	return ing.store.MarkContractArchived(ctx, area, contract.ContractID)
}

// RunRealtime advances the revision stream checkpoint. The fetch window
// starts one minute before the checkpoint so late-arriving revisions are
// re-read; deterministic tick IDs make the overlap free of duplicates.
func (ing *Ingester) RunRealtime(ctx context.Context, area string) error {
	now := ing.now().UTC()

	state, ok, err := ing.cp.GetOrderFlowSyncState(ctx, area)
	if err != nil {
		return fmt.Errorf("orderflow realtime: load checkpoint: %w", err)
	}
	if !ok {
		state = domain.OrderFlowSyncState{Area: area, LastArchivedTime: ing.cfg.ColdStart, LastRealtimeTime: ing.cfg.ColdStart}
	}

	start := state.LastRealtimeTime.Add(-realtimeOverlap)
	floor := now.Add(-realtimeFloorLag)
	if start.Before(floor) {
		start = floor
	}
	// A checkpoint in the future means clock skew or a corrupt state row;
	// fall back to a window wide enough to re-cover recent activity.
	if start.After(now) {
		start = now.Add(-realtimeSkewResetLag)
	}

	var streamErr error
	for slice := range ing.client.OrderRevisionsByUpdatedTime(ctx, area, start, now, ing.cfg.RevisionChunk) {
		if slice.Err != nil {
			streamErr = slice.Err
			ing.log.Warn().Err(slice.Err).Str("area", area).Msg("orderflow realtime: slice fetch failed")
			continue
		}
		ticks := parse.NormalizeRealtimeRevisions(slice.Payload, area)
		if len(ticks) == 0 {
			continue
		}
		n, err := ing.store.InsertTicksIgnoreConflict(ctx, ticks)
		if err != nil {
			streamErr = err
			ing.log.Warn().Err(err).Str("area", area).Msg("orderflow realtime: insert failed")
			continue
		}
		if ing.met != nil {
			ing.met.TicksIngested.WithLabelValues(area, "hot").Add(float64(n))
		}
	}

	if streamErr != nil {
		state.Status = domain.StatusWarning
		state.LastError = domain.TruncateError(streamErr)
		if err := ing.cp.SaveOrderFlowSyncState(ctx, state); err != nil {
			return fmt.Errorf("orderflow realtime: persist warning state: %w", err)
		}
		return streamErr
	}

	state.LastRealtimeTime = now
	state.Status = domain.StatusOK
	state.LastError = ""
	if err := ing.cp.SaveOrderFlowSyncState(ctx, state); err != nil {
		return fmt.Errorf("orderflow realtime: advance checkpoint: %w", err)
	}
	if ing.met != nil {
		ing.met.CheckpointLag.WithLabelValues("orderflow_realtime", area).Set(0)
	}
	return nil
}
