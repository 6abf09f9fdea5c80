package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nordflow/ingest/internal/config"
	"github.com/nordflow/ingest/internal/scheduler"
)

var configPath string

// Execute builds the command tree and runs it to completion.
func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "ingestd", Short: "Intraday power-market ingestion, archival and replay daemon"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	root.AddCommand(runCmd(ctx))
	root.AddCommand(backfillCmd(ctx))
	root.AddCommand(replayCmd(ctx))
	return root.ExecuteContext(ctx)
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfg)
}

// runCmd starts the daemon: every scheduled job, on its own ticker, until
// the process receives SIGINT/SIGTERM.
func runCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the ingestion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.MetricsAddr != "" {
				go a.serveMetrics(cmd.Context())
			}

			log.Info().Strs("areas", a.cfg.Areas).Msg("ingestd: starting scheduled jobs")
			scheduler.New(a.scheduledJobs(), a.metrics, a.log).Run(cmd.Context())
			return nil
		},
	}
}

// backfillCmd drives one area's trade, order-flow, and candle ingesters to
// completion in a single pass, outside of the scheduler's cadence — useful
// for seeding a brand-new area or catching up after downtime.
func backfillCmd(ctx context.Context) *cobra.Command {
	var area string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "run trade, order-flow, and candle ingestion once for one area",
		RunE: func(cmd *cobra.Command, args []string) error {
			if area == "" {
				return fmt.Errorf("backfill: --area is required")
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.tradeIngester.Run(ctx, area); err != nil {
				return fmt.Errorf("backfill: trade ingester: %w", err)
			}
			if err := a.flowIngester.Run(ctx, area); err != nil {
				return fmt.Errorf("backfill: order-flow ingester: %w", err)
			}
			if err := a.candlePipe.Run(ctx, area); err != nil {
				return fmt.Errorf("backfill: candle pipeline: %w", err)
			}
			log.Info().Str("area", area).Msg("ingestd: backfill complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&area, "area", "", "delivery area to backfill, e.g. SE1")
	return cmd
}

// replayCmd reconstructs and prints an order book at a point in time,
// exercising the same Replayer the Read API uses.
func replayCmd(ctx context.Context) *cobra.Command {
	var contractID, atStr string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "reconstruct an order book at a point in time and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contractID == "" {
				return fmt.Errorf("replay: --contract is required")
			}
			at := time.Now().UTC()
			if atStr != "" {
				parsed, err := time.Parse(time.RFC3339, atStr)
				if err != nil {
					return fmt.Errorf("replay: invalid --at: %w", err)
				}
				at = parsed.UTC()
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			book, err := a.readAPI.BookAt(cmd.Context(), contractID, at)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(book)
		},
	}
	cmd.Flags().StringVar(&contractID, "contract", "", "contract ID to replay")
	cmd.Flags().StringVar(&atStr, "at", "", "RFC3339 timestamp to reconstruct the book at (default: now)")
	return cmd
}
