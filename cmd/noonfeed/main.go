package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/duiduidodge/noon-feed-sub001/internal/app"
	"github.com/duiduidodge/noon-feed-sub001/internal/config"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/signals"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

func main() {
	logger.Init()

	root := &cobra.Command{
		Use:           "noonfeed",
		Short:         "Crypto news ingestion, enrichment and delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCMD(), runCMD(), serveCMD(), resetCMD(), signalsCMD())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// withApp loads config, builds the app and closes it after fn returns.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func migrateCMD() *cobra.Command {
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := storage.Migrate(dsn, direction, steps); err != nil {
				return err
			}
			logger.Info("Migrations applied", "direction", direction, "steps", steps)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}

func runCMD() *cobra.Command {
	var once bool
	var migrateFirst bool

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and HTTP server, or every stage once with --once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateFirst {
				if err := storage.Migrate(os.Getenv("DATABASE_URL"), "up", 0); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if once {
					return a.RunOnce(cmd.Context())
				}
				return a.Run(cmd.Context())
			})
		},
	}
	run.Flags().BoolVar(&once, "once", false, "run ingest, fetch, enrich and deliver once and exit")
	run.Flags().BoolVar(&migrateFirst, "migrate", false, "apply migrations before starting")
	return run
}

func serveCMD() *cobra.Command {
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run only the HTTP server (health, metrics, read API, job triggers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if addr == "" {
					addr = a.Config.HTTPAddr
				}
				srv := a.Server()
				return srv.Start(cmd.Context(), addr)
			})
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return serve
}

func resetCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <article-id>",
		Short: "Move an ENRICHED article back to FETCHED and drop its enrichment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid article id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Pipeline.ResetEnrichment(cmd.Context(), id); err != nil {
					return err
				}
				logger.Info("Enrichment reset", "article_id", id)
				return nil
			})
		},
	}
}

func signalsCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "signals [kind...]",
		Short: "Run signal scripts once and store their snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				specs, err := signals.Select(a.Specs, args)
				if err != nil {
					return err
				}
				var failed int
				for _, spec := range specs {
					if _, err := a.Signals.Run(cmd.Context(), spec); err != nil {
						logger.Error("Signal script failed", "kind", spec.Kind, "error", err)
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d signal script(s) failed", failed)
				}
				return nil
			})
		},
	}
}
