package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "VILLES_"

// EnvConfigFile names the variable holding an optional YAML config path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if VILLES_CONFIG is set
//  3. env (prefix VILLES_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrLoadConfig, path, err)
		}
	}

	// VILLES_BROKER_URL -> broker_url (flat keys, underscores preserved).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.BrokerURL == "":
		return fmt.Errorf("%w: broker_url must not be empty", ErrInvalidConfig)
	case c.BrokerConnectRetries < 1:
		return fmt.Errorf("%w: broker_connect_retries must be >= 1", ErrInvalidConfig)
	case c.BrokerConnectDelayMS < 0:
		return fmt.Errorf("%w: broker_connect_delay_ms must be >= 0", ErrInvalidConfig)
	case c.Source != SourceWikidata && c.Source != SourceSynthetic:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	case c.SourceLimit < 1:
		return fmt.Errorf("%w: source_limit must be >= 1", ErrInvalidConfig)
	case c.ImageMaxSide < 1:
		return fmt.Errorf("%w: image_max_side must be >= 1", ErrInvalidConfig)
	case c.DownloadRate <= 0 || c.DownloadBurst < 1:
		return fmt.Errorf("%w: download_rate and download_burst must be positive", ErrInvalidConfig)
	case c.CollectIntervalS < 0:
		return fmt.Errorf("%w: collect_interval_s must be >= 0", ErrInvalidConfig)
	case c.ColorsK < 1 || c.ColorsSampleSide < 1:
		return fmt.Errorf("%w: colors_k and colors_sample_side must be >= 1", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be >= 1", ErrInvalidConfig)
	case c.RecordsBackend != BackendJSON && c.RecordsBackend != BackendSQLite:
		return fmt.Errorf("%w: unknown records_backend %q", ErrInvalidConfig, c.RecordsBackend)
	case c.ProfilesBackend != BackendJSON && c.ProfilesBackend != BackendBadger:
		return fmt.Errorf("%w: unknown profiles_backend %q", ErrInvalidConfig, c.ProfilesBackend)
	case !c.PublishEnriched && !c.StoreEnriched:
		return fmt.Errorf("%w: at least one of publish_enriched and store_enriched must be set", ErrInvalidConfig)
	case c.FeatureSchema != SchemaV1 && c.FeatureSchema != SchemaV2:
		return fmt.Errorf("%w: unknown feature_schema %q", ErrInvalidConfig, c.FeatureSchema)
	case c.TrainThreshold < 1:
		return fmt.Errorf("%w: train_threshold must be >= 1", ErrInvalidConfig)
	case c.PerceptronEta <= 0 || c.PerceptronMaxIter < 1:
		return fmt.Errorf("%w: perceptron_eta and perceptron_max_iter must be positive", ErrInvalidConfig)
	case c.DrainBatch < 1:
		return fmt.Errorf("%w: drain_batch must be >= 1", ErrInvalidConfig)
	}
	return nil
}
