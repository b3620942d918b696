package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/tap-lightcast/pkg/config"
	"github.com/Sternrassler/tap-lightcast/pkg/lightcast"
	"github.com/Sternrassler/tap-lightcast/pkg/logging"
	"github.com/Sternrassler/tap-lightcast/pkg/metrics"
	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rootFlags struct {
	configPath  string
	statePath   string
	catalogPath string
	discover    bool
	about       bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           lightcast.Name,
		Short:         "Singer tap for the Lightcast open skills taxonomy",
		Long:          "tap-lightcast extracts the latest Lightcast skills taxonomy version, its skill ids and every skill's details as Singer messages on stdout.",
		Version:       lightcast.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to the JSON config file")
	cmd.Flags().StringVar(&flags.statePath, "state", "", "Path to the state of a previous run")
	cmd.Flags().StringVar(&flags.catalogPath, "catalog", "", "Path to a catalog selecting streams")
	cmd.Flags().BoolVar(&flags.discover, "discover", false, "Write the catalog to stdout and exit")
	cmd.Flags().BoolVar(&flags.about, "about", false, "Describe the tap and its settings")

	return cmd
}

func run(ctx context.Context, flags rootFlags, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if flags.about {
		return writeJSON(stdout, lightcast.Describe())
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: stderr,
		RunID:  uuid.NewString(),
	})

	if flags.discover {
		t, err := lightcast.New(ctx, lightcast.Options{Config: cfg, Output: io.Discard})
		if err != nil {
			return err
		}
		defer t.Close()
		return writeJSON(stdout, t.Discover())
	}

	catalog, err := singer.LoadCatalog(flags.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	state, err := singer.LoadState(flags.statePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := lightcast.New(ctx, lightcast.Options{
		Config:  cfg,
		Output:  stdout,
		Catalog: catalog,
		State:   state,
	})
	if err != nil {
		return err
	}
	defer t.Close()

	return runSync(ctx, t, cfg.MetricsAddr)
}

// runSync runs the extraction and, when metricsAddr is set, the metrics server
// until the extraction returns. A failing metrics server does not stop the
// extraction.
func runSync(ctx context.Context, t *lightcast.Tap, metricsAddr string) error {
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	if metricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(serveCtx, metricsAddr); err != nil {
				log.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed - continuing without metrics")
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopServe()
		summary, err := t.Sync(gctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		log.Info().
			Interface("records", summary.Records).
			Interface("requests", summary.Requests).
			Msg("Extraction finished")
		return nil
	})

	return g.Wait()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
