package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/villes/internal/adapters/mq/broker"
	app "github.com/okian/villes/internal/app"
	"github.com/okian/villes/pkg/logger"
)

func newEnrichCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Consume ville_queue, extract dominant colours and write enriched records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEnrich(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while running")
	return cmd
}

func runEnrich(ctx context.Context, metricsAddr string) error {
	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("enrich")

	go startSystemMetricsUpdater(ctx)

	b, err := connectBroker(ctx, cfg)
	if err != nil {
		if errors.Is(err, broker.ErrBrokerUnavailable) {
			log.Fatal(ctx, "broker unavailable", logger.String("url", cfg.BrokerURL), logger.Error(err))
		}
		return err
	}
	defer b.Close()

	opts := []app.EnrichmentOption{
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithPublish(cfg.PublishEnriched),
	}
	if cfg.StoreEnriched {
		store, err := openRecordStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, app.WithRecordStore(store))
	}

	e, err := app.NewEnrichment(b, newExtractor(cfg), opts...)
	if err != nil {
		return err
	}
	serveMetrics(ctx, metricsAddr, e)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "enrichment failed", logger.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "enrichment shutdown timed out", logger.Error(err))
	}
	return <-errCh
}
