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

func newCollectCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch city records, resolve their images and publish them to ville_queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCollect(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while running")
	return cmd
}

func runCollect(ctx context.Context, metricsAddr string) error {
	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("collect")

	serveMetrics(ctx, metricsAddr, nil)
	go startSystemMetricsUpdater(ctx)

	b, err := connectBroker(ctx, cfg)
	if err != nil {
		if errors.Is(err, broker.ErrBrokerUnavailable) {
			log.Fatal(ctx, "broker unavailable", logger.String("url", cfg.BrokerURL), logger.Error(err))
		}
		return err
	}
	defer b.Close()

	c := app.NewCollector(newSource(cfg), b,
		app.WithResolver(newResolver(cfg)),
		app.WithSnapshotPath(cfg.SnapshotPath),
		app.WithInterval(cfg.CollectInterval()),
	)
	if err := c.Run(ctx); err != nil {
		log.Error(ctx, "collection failed", logger.Error(err))
		return err
	}
	return nil
}
