package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/villes/internal/adapters/http/api"
	"github.com/okian/villes/internal/adapters/http/swagger"
	"github.com/okian/villes/internal/adapters/mq/broker"
	app "github.com/okian/villes/internal/app"
	"github.com/okian/villes/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve interaction sessions over the enriched candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("serve")

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	profiles, err := openProfileStore(cfg)
	if err != nil {
		return err
	}
	defer profiles.Close()

	var opts []app.RecommenderOption
	if cfg.StoreEnriched {
		store, err := openRecordStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, app.WithCandidateStore(store))
	}
	if cfg.PublishEnriched {
		b, err := connectBroker(ctx, cfg)
		if err != nil {
			if errors.Is(err, broker.ErrBrokerUnavailable) {
				log.Fatal(ctx, "broker unavailable", logger.String("url", cfg.BrokerURL), logger.Error(err))
			}
			return err
		}
		defer b.Close()
		opts = append(opts, app.WithCandidateQueue(b), app.WithDrainBatch(cfg.DrainBatch))
	}
	rec := app.NewRecommender(engine, profiles, opts...)

	go startSystemMetricsUpdater(ctx)

	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(rec, rec).Register(mux)
	return serveHTTP(ctx, newHTTPServer(cfg.Addr, mux))
}
