package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/villes/internal/adapters/http/api"
	"github.com/okian/villes/internal/adapters/mq/broker"
	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/profiles"
	"github.com/okian/villes/internal/adapters/repository"
	"github.com/okian/villes/internal/adapters/source"
	"github.com/okian/villes/internal/config"
	"github.com/okian/villes/internal/domain/colors"
	"github.com/okian/villes/internal/domain/features"
	"github.com/okian/villes/internal/domain/profile"
	"github.com/okian/villes/internal/domain/ranking"
	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "villes",
		Short:         "City image pipeline: collect, enrich and recommend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv(config.EnvConfigFile, configPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides "+config.EnvConfigFile+")")

	root.AddCommand(newCollectCmd(), newEnrichCmd(), newServeCmd(), newRunCmd())
	return root
}

// bootstrap loads the configuration and initializes logging.
func bootstrap(ctx context.Context) (*config.Config, error) {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return nil, err
	}
	if err := logger.InitWith(os.Stdout, cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return nil, err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// connectBroker connects with the configured retry policy and declares both
// pipeline queues.
func connectBroker(ctx context.Context, cfg *config.Config) (*broker.JetStreamBroker, error) {
	nc, err := broker.NewConnector(cfg.BrokerURL,
		broker.WithCredentials(cfg.BrokerUser, cfg.BrokerPassword),
		broker.WithRetries(cfg.BrokerConnectRetries),
		broker.WithDelay(cfg.BrokerConnectDelay()),
	).Connect(ctx)
	if err != nil {
		return nil, err
	}
	b, err := broker.NewJetStreamBroker(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := b.Declare(ctx, queue.VilleQueue, queue.ProcessedQueue); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("declare queues: %w", err)
	}
	return b, nil
}

// openRecordStore opens the enriched-record store backend.
func openRecordStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.RecordsBackend {
	case config.BackendSQLite:
		return repository.NewSQLiteStore(ctx, cfg.RecordsPath)
	default:
		return repository.NewJSONFileStore(cfg.RecordsPath)
	}
}

// profileStore is a FeedbackStore backend that holds resources.
type profileStore interface {
	profile.Store
	Close() error
}

// openProfileStore opens the FeedbackStore backend.
func openProfileStore(cfg *config.Config) (profileStore, error) {
	switch cfg.ProfilesBackend {
	case config.BackendBadger:
		return profiles.OpenBadgerStore(cfg.ProfilesPath)
	default:
		return profiles.NewJSONFileStore(cfg.ProfilesPath)
	}
}

// newSource builds the configured record source.
func newSource(cfg *config.Config) source.Source {
	if cfg.Source == config.SourceSynthetic {
		return source.NewSynthetic(cfg.SyntheticCount, cfg.ImageDir, time.Now().UnixNano())
	}
	return source.NewWikidata(cfg.SourceEndpoint,
		source.WithLanguage(cfg.SourceLanguage),
		source.WithLimit(cfg.SourceLimit),
		source.WithUserAgent(cfg.UserAgent),
	)
}

// newResolver builds the image resolver from the configuration.
func newResolver(cfg *config.Config) *source.Resolver {
	return source.NewResolver(cfg.ImageDir,
		source.WithMaxSide(cfg.ImageMaxSide),
		source.WithRate(cfg.DownloadRate, cfg.DownloadBurst),
		source.WithResolverUserAgent(cfg.UserAgent),
	)
}

// newExtractor builds the dominant-colour extractor from the configuration.
func newExtractor(cfg *config.Config) colors.Extractor {
	return colors.NewKMeans(colors.WithK(cfg.ColorsK), colors.WithSampleSide(cfg.ColorsSampleSide))
}

// stageStats reports the stats of several stages keyed by stage name.
type stageStats map[string]api.StatsProvider

func (s stageStats) GetStats() map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for name, p := range s {
		out[name] = p.GetStats()
	}
	return out
}

// newEngine builds the ranking engine from the configuration.
func newEngine(cfg *config.Config) (*ranking.Engine, error) {
	schema, err := features.Lookup(cfg.FeatureSchema)
	if err != nil {
		return nil, err
	}
	return ranking.NewEngine(
		ranking.WithSchema(schema),
		ranking.WithThreshold(cfg.TrainThreshold),
		ranking.WithLearningRate(cfg.PerceptronEta),
		ranking.WithMaxIter(cfg.PerceptronMaxIter),
	), nil
}

// newHTTPServer wraps mux with the process-wide timeouts.
func newHTTPServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	log := logger.Named("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(context.Background(), "server shutdown failed", logger.Error(err))
		return err
	}
	log.Info(context.Background(), "server stopped")
	return nil
}

// metricsMux routes /metrics and /healthz, plus /stats when stats is set.
func metricsMux(stats api.StatsProvider) *http.ServeMux {
	health := api.NewHealthHandler()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.Handle("GET /metrics", health.MetricsHandler())
	if stats != nil {
		mux.HandleFunc("GET /stats", api.NewStatsHandler(stats).HandleStats)
	}
	return mux
}

// serveMetrics exposes metricsMux on addr for the headless stages. An empty
// addr disables it.
func serveMetrics(ctx context.Context, addr string, stats api.StatsProvider) {
	if addr == "" {
		return
	}
	mux := metricsMux(stats)
	go func() {
		if err := serveHTTP(ctx, newHTTPServer(addr, mux)); err != nil {
			logger.Get().Error(ctx, "metrics endpoint failed", logger.Error(err))
		}
	}()
}

// startSystemMetricsUpdater samples runtime statistics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectSystem()
		}
	}
}
