package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/cache"
	"github.com/nordflow/ingest/internal/candle"
	"github.com/nordflow/ingest/internal/coldstore"
	"github.com/nordflow/ingest/internal/config"
	"github.com/nordflow/ingest/internal/ingest/orderflow"
	"github.com/nordflow/ingest/internal/ingest/trade"
	"github.com/nordflow/ingest/internal/live"
	"github.com/nordflow/ingest/internal/metrics"
	"github.com/nordflow/ingest/internal/readapi"
	"github.com/nordflow/ingest/internal/scheduler"
	"github.com/nordflow/ingest/internal/store/postgres"
	"github.com/nordflow/ingest/internal/upstream"
)

// app bundles every wired component main's subcommands share.
type app struct {
	cfg       config.Config
	repo      *postgres.Repository
	client    *upstream.Client
	cold      *coldstore.Store
	cacheImpl cache.Cache
	metrics   *metrics.Registry
	log       zerolog.Logger

	tradeIngester *trade.Ingester
	flowIngester  *orderflow.Ingester
	candlePipe    *candle.Pipeline
	readAPI       *readapi.API
	liveRunners   map[string]*live.Runner
}

func newApp(cfg config.Config) (*app, error) {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	repo, err := postgres.Open(postgres.DefaultConfig(cfg.PostgresDSN))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if !cfg.UpstreamEnabled() {
		log.Warn().Msg("ingestd: upstream credentials not configured, ingestion disabled; read API still serves stored data")
	}
	client := upstream.NewClient(cfg, log)
	cold := coldstore.New(cfg.ColdStoreDir)
	cacheImpl := cache.NewAuto(cfg.RedisAddr)
	reg := metrics.NewRegistry()

	a := &app{
		cfg:       cfg,
		repo:      repo,
		client:    client,
		cold:      cold,
		cacheImpl: cacheImpl,
		metrics:   reg,
		log:       log,
	}

	a.tradeIngester = trade.New(client, repo, repo, trade.Config{
		ColdStart:     cfg.ColdStartDate,
		BackfillChunk: cfg.TradeBackfillChunk,
		ActiveWindow:  cfg.ActiveWindowLength,
	}, reg, log)
	a.flowIngester = orderflow.New(client, repo, repo, cold, orderflow.Config{
		ColdStart:       cfg.ColdStartDate,
		ArchiveDelay:    cfg.ArchiveSafetyDelay,
		HotColdBoundary: cfg.HotColdBoundary,
		RevisionChunk:   cfg.RevisionStreamChunk,
		Workers:         cfg.ArchivalWorkers,
	}, reg, log)
	a.candlePipe = candle.New(repo, repo, log, cfg.ColdStartDate)
	a.readAPI = readapi.New(repo, cold, cacheImpl, 0)

	a.liveRunners = make(map[string]*live.Runner, len(cfg.Areas))
	for _, area := range cfg.Areas {
		stateFile := filepath.Join(cfg.LiveStateDir, area+".json")
		a.liveRunners[area] = live.NewRunner(area, cfg.LiveMode, stateFile, repo, repo, live.NoopStrategy{}, log)
	}

	return a, nil
}

// liveTick runs one area's live-runner heartbeat against the nearest
// contract still open or in delivery for that area today, the front
// contract a paper/replay book would be tracking. An area with no
// contracts on today's date is a quiet no-op, not an error.
func (a *app) liveTick(ctx context.Context, area string) error {
	runner, ok := a.liveRunners[area]
	if !ok {
		return fmt.Errorf("live tick: no runner wired for area %s", area)
	}

	contractID, found, err := a.frontContract(ctx, area)
	if err != nil {
		return fmt.Errorf("live tick: resolve front contract: %w", err)
	}
	if !found {
		return nil
	}
	return runner.Tick(ctx, contractID)
}

// frontContract picks the nearest contract for area whose delivery has not
// yet ended as of now, preferring the one starting soonest — the same
// "currently relevant contract" a human trader would be watching.
func (a *app) frontContract(ctx context.Context, area string) (string, bool, error) {
	now := time.Now().UTC()
	listing, err := a.readAPI.ListContractsOnDate(ctx, area, now)
	if err != nil {
		return "", false, err
	}

	var best *readapi.ContractListing
	for i := range listing.Items {
		c := listing.Items[i]
		if c.DeliveryEnd.Before(now) {
			continue
		}
		if best == nil || c.DeliveryStart.Before(best.DeliveryStart) {
			best = &listing.Items[i]
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.ContractID, true, nil
}

func (a *app) close() {
	_ = a.repo.Close()
}

// serveMetrics exposes /metrics and a /healthz probe reporting the
// upstream circuit breaker's state. The listener dies with the process;
// it is shut down when ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !a.client.Healthy() {
			http.Error(w, "upstream circuit open", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("ingestd: metrics listener up")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Error().Err(err).Msg("ingestd: metrics listener failed")
	}
}

// scheduledJobs builds the scheduler.Job list for every area this
// process is configured to ingest.
func (a *app) scheduledJobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name:         "trade_sync",
			Areas:        a.cfg.Areas,
			Interval:     a.cfg.TradeSyncInterval,
			MisfireGrace: a.cfg.SchedulerMisfireGrace,
			Run:          a.tradeIngester.Run,
		},
		{
			Name:         "orderflow_sync",
			Areas:        a.cfg.Areas,
			Interval:     a.cfg.OrderFlowSyncInterval,
			MisfireGrace: a.cfg.SchedulerMisfireGrace,
			Run:          a.flowIngester.Run,
		},
		{
			Name:         "candle_gen",
			Areas:        a.cfg.Areas,
			Interval:     a.cfg.CandleGenInterval,
			MisfireGrace: a.cfg.SchedulerMisfireGrace,
			Run:          a.candlePipe.Run,
		},
		{
			Name:         "live_tick",
			Areas:        a.cfg.Areas,
			Interval:     a.cfg.LiveTickInterval,
			MisfireGrace: a.cfg.SchedulerMisfireGrace,
			Run:          a.liveTick,
		},
	}
}
