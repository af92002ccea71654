package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/villes/internal/adapters/http/api"
	"github.com/okian/villes/internal/adapters/http/swagger"
	"github.com/okian/villes/internal/adapters/mq/queue"
	app "github.com/okian/villes/internal/app"
	"github.com/okian/villes/internal/config"
	"github.com/okian/villes/pkg/logger"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run collector, enricher and session API in one process over an in-memory broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAll(ctx)
		},
	}
}

// pipeline is every stage of the system sharing one in-memory broker.
type pipeline struct {
	broker      *queue.InMemoryBroker
	collector   *app.Collector
	enrichment  *app.Enrichment
	recommender *app.Recommender
	mux         *http.ServeMux

	closers []func() error
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	p := &pipeline{broker: queue.NewInMemoryBroker()}
	p.closers = append(p.closers, p.broker.Close)
	if err := p.broker.Declare(ctx, queue.VilleQueue, queue.ProcessedQueue); err != nil {
		p.Close()
		return nil, err
	}

	engine, err := newEngine(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	profiles, err := openProfileStore(cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, profiles.Close)

	enrichOpts := []app.EnrichmentOption{
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithPublish(cfg.PublishEnriched),
	}
	var recOpts []app.RecommenderOption
	if cfg.StoreEnriched {
		store, err := openRecordStore(ctx, cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.closers = append(p.closers, store.Close)
		enrichOpts = append(enrichOpts, app.WithRecordStore(store))
		recOpts = append(recOpts, app.WithCandidateStore(store))
	}
	if cfg.PublishEnriched {
		recOpts = append(recOpts, app.WithCandidateQueue(p.broker), app.WithDrainBatch(cfg.DrainBatch))
	}

	p.enrichment, err = app.NewEnrichment(p.broker, newExtractor(cfg), enrichOpts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.collector = app.NewCollector(newSource(cfg), p.broker,
		app.WithResolver(newResolver(cfg)),
		app.WithSnapshotPath(cfg.SnapshotPath),
		app.WithInterval(cfg.CollectInterval()),
	)
	p.recommender = app.NewRecommender(engine, profiles, recOpts...)

	p.mux = http.NewServeMux()
	swagger.Register(p.mux)
	api.NewServer(p.recommender, stageStats{
		"enrichment":  p.enrichment,
		"recommender": p.recommender,
	}).Register(p.mux)
	return p, nil
}

// Close releases the stores and the broker in reverse order of opening.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i]()
	}
}

func runAll(ctx context.Context) error {
	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("run")

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	go startSystemMetricsUpdater(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.collector.Run(gctx) })
	g.Go(func() error { return p.enrichment.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, newHTTPServer(cfg.Addr, p.mux)) })

	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := p.enrichment.Shutdown(shutdownCtx); serr != nil {
		log.Warn(shutdownCtx, "enrichment shutdown timed out", logger.Error(serr))
	}
	if err != nil {
		log.Error(ctx, "pipeline failed", logger.Error(err))
	}
	return err
}
