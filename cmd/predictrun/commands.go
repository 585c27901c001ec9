package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/infrastructure/db"
	monitor "github.com/sawpanic/predictrun/internal/interfaces/http"
	"github.com/sawpanic/predictrun/internal/interfaces/http/handlers"
	"github.com/sawpanic/predictrun/internal/interfaces/output"
	"github.com/sawpanic/predictrun/internal/scheduler"
)

// withApp loads config, wires the app and runs fn under a signal-aware context
func withApp(flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Error while closing connections")
		}
	}()
	return fn(ctx, a)
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noMonitor bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the read-only monitor",
		Long: `Runs ingestion, evaluation ticks and prediction cycles on their configured intervals
and serves the read-only monitor (/health, /metrics, /stats, /signals/latest, /trades,
/trades/summary, /scheduler/status and /ws/signals).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				return runServe(ctx, a, noMonitor)
			})
		},
	}
	cmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "Do not start the HTTP monitor")
	return cmd
}

func runServe(ctx context.Context, a *app, noMonitor bool) error {
	if ok, err := a.engine.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Starting with an untrained classifier")
	} else if ok {
		log.Info().Int64("version", a.model.Version()).Msg("Classifier ready")
	}

	sched, err := scheduler.New(a.cfg.Scheduler)
	if err != nil {
		return err
	}
	sched.Handle(scheduler.JobEvaluate, func(ctx context.Context) error {
		_, err := a.engine.EvaluateTick(ctx)
		return err
	})
	sched.Handle(scheduler.JobPredict, func(ctx context.Context) error {
		_, err := a.engine.PredictionCycle(ctx)
		return err
	})
	if a.ingester != nil {
		sched.Handle(scheduler.JobIngest, func(ctx context.Context) error {
			_, err := a.ingester.Run(ctx)
			return err
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	var srv *monitor.Server
	if !noMonitor {
		h := handlers.NewHandlers(handlers.Config{
			Signals:   a.repo.Signals,
			Trades:    a.repo.Trades,
			Prices:    a.repo.Prices,
			Checks:    a.checks,
			Hub:       a.hub,
			Model:     a.model,
			Scheduler: sched,
			Version:   version,
		})
		srv = monitor.NewServer(a.cfg.HTTP, h, a.metrics.Handler())
		go func() { srvErr <- srv.Start() }()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	schedDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(schedDone)
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Scheduler stopped unexpectedly")
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.relaySignals(ctx); err != nil {
			log.Error().Err(err).Msg("Signal relay stopped")
		}
	}()

	select {
	case <-ctx.Done():
	case <-schedDone:
	case err := <-srvErr:
		if err != nil {
			log.Error().Err(err).Msg("Monitor stopped unexpectedly")
		}
	}
	cancel()

	var shutdownErr error
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("monitor shutdown: %w", err)
		}
	}
	// in-flight jobs finish before the stores are closed
	wg.Wait()
	return shutdownErr
}

func newEvaluateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation tick over every open trade",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				report, err := a.engine.EvaluateTick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d open trades: %d closed, %d skipped\n",
					report.Evaluated, len(report.Closed), report.Skipped)
				for _, t := range report.Closed {
					c, _ := t.Closing()
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %-6s %-5s %s (%s)\n",
						t.ID(), t.Symbol(), t.Side(), colorResult(c.Result), c.Reason)
				}
				return nil
			})
		},
	}
}

func newPredictCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction cycle: train, rank, publish and open trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				if _, err := a.engine.Restore(ctx); err != nil {
					log.Warn().Err(err).Msg("Persisted classifier not restored")
				}
				report, err := a.engine.PredictionCycle(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if report.TrainingErr != nil {
					fmt.Fprintf(w, "training: %v\n", report.TrainingErr)
				} else if report.Training != nil {
					fmt.Fprintf(w, "training: model v%d on %d samples, loss %.4f\n",
						report.Training.Version, report.Training.Samples, report.Training.FinalLoss())
				}
				if report.NoSignal {
					fmt.Fprintln(w, warnColor.Sprint("no model available, nothing published"))
					return nil
				}
				printBatch(w, report.Batch)
				fmt.Fprintf(w, "opened %d trades, %d skipped\n", report.Opened, report.OpenSkipped)
				return nil
			})
		},
	}
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch one quote per configured symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				if a.ingester == nil {
					return fmt.Errorf("no quote source configured (ingest.quoter.base_url or PREDICTRUN_QUOTE_URL)")
				}
				if reset {
					a.ingester.Reset()
				}
				report, err := a.ingester.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "fetched %d of %d symbols", report.Fetched, len(a.ingester.Symbols()))
				if len(report.Failed) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), ", failed: %v", report.Failed)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear failure counts before fetching")
	return cmd
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			m, err := db.NewManager(cfg.Database)
			if err != nil {
				return err
			}
			defer m.Close()
			if !m.IsEnabled() {
				return fmt.Errorf("database is disabled (set database.enabled or PG_ENABLED=true)")
			}
			return db.Migrate(cmd.Context(), m.DB().DB)
		},
	}
}

func newSignalsCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		csvOut string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show the latest prediction batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				emitter := output.NewEmitter()

				show := func(batch market.Batch) error {
					switch {
					case csvOut != "":
						if err := emitter.EmitSignalsCSV(csvOut, batch); err != nil {
							return err
						}
						fmt.Fprintf(w, "wrote %d signals to %s\n", len(batch.Signals()), csvOut)
					case asJSON:
						return emitter.WriteSignalsJSON(w, batch, a.model.Version())
					default:
						printBatch(w, batch)
					}
					return nil
				}

				if follow {
					if a.redis == nil {
						return fmt.Errorf("--follow needs redis.addr or REDIS_ADDR")
					}
					return a.redis.Subscribe(ctx, func(batch market.Batch) {
						if err := show(batch); err != nil {
							log.Error().Err(err).Msg("Failed to show batch")
						}
					})
				}

				batch, ok, err := a.repo.Signals.LatestBatch(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(w, warnColor.Sprint("no predictions available yet"))
					return nil
				}
				return show(batch)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the batch as JSON")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write the batch to a CSV file")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream batches from Redis as they are published")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s %s/%s)\n", appName, version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
