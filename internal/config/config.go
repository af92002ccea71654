// Package config defines process configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat snake_case and map 1:1 to VILLES_ environment variables.
// - New(ctx) returns the defaults; Load layers a YAML file and env on top.
package config

import (
	"context"
	"time"
)

// Supported backend and source names.
const (
	SourceWikidata  = "wikidata"
	SourceSynthetic = "synthetic"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"

	SchemaV1 = "v1"
	SchemaV2 = "v2"
)

// Config contains process configuration shared by all subcommands.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Broker connection.
	BrokerURL            string `koanf:"broker_url"`
	BrokerUser           string `koanf:"broker_user"`
	BrokerPassword       string `koanf:"broker_password"`
	BrokerConnectRetries int    `koanf:"broker_connect_retries"`
	BrokerConnectDelayMS int    `koanf:"broker_connect_delay_ms"`

	// Source selects where city records come from: wikidata or synthetic.
	Source         string `koanf:"source"`
	SourceEndpoint string `koanf:"source_endpoint"`
	SourceLimit    int    `koanf:"source_limit"`
	SourceLanguage string `koanf:"source_language"`
	SyntheticCount int    `koanf:"synthetic_count"`

	// Image resolution.
	ImageDir      string  `koanf:"image_dir"`
	ImageMaxSide  int     `koanf:"image_max_side"`
	DownloadRate  float64 `koanf:"download_rate"`
	DownloadBurst int     `koanf:"download_burst"`
	UserAgent     string  `koanf:"user_agent"`

	// SnapshotPath receives the collected batch; empty disables it.
	SnapshotPath string `koanf:"snapshot_path"`

	// CollectIntervalS repeats collection every N seconds; 0 runs once.
	CollectIntervalS int `koanf:"collect_interval_s"`

	// Colour extraction.
	ColorsK          int `koanf:"colors_k"`
	ColorsSampleSide int `koanf:"colors_sample_side"`

	// WorkerCount sets the number of Enricher loops per process.
	WorkerCount int `koanf:"worker_count"`

	// Enriched record sinks.
	RecordsBackend  string `koanf:"records_backend"`
	RecordsPath     string `koanf:"records_path"`
	PublishEnriched bool   `koanf:"publish_enriched"`
	StoreEnriched   bool   `koanf:"store_enriched"`

	// Feedback store.
	ProfilesBackend string `koanf:"profiles_backend"`
	ProfilesPath    string `koanf:"profiles_path"`

	// Ranking.
	FeatureSchema     string  `koanf:"feature_schema"`
	TrainThreshold    int     `koanf:"train_threshold"`
	PerceptronEta     float64 `koanf:"perceptron_eta"`
	PerceptronMaxIter int     `koanf:"perceptron_max_iter"`
	DrainBatch        int     `koanf:"drain_batch"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",

		BrokerURL:            "nats://localhost:4222",
		BrokerUser:           "user",
		BrokerPassword:       "password",
		BrokerConnectRetries: 10,
		BrokerConnectDelayMS: 5000,

		Source:         SourceWikidata,
		SourceEndpoint: "https://query.wikidata.org/sparql",
		SourceLimit:    200,
		SourceLanguage: "fr",
		SyntheticCount: 20,

		ImageDir:      "data/images",
		ImageMaxSide:  1024,
		DownloadRate:  2,
		DownloadBurst: 1,
		UserAgent:     "villes-collector/1.0 (https://github.com/okian/villes)",

		SnapshotPath: "data/ville_metadata.json",

		ColorsK:          3,
		ColorsSampleSide: 100,

		WorkerCount: 1,

		RecordsBackend:  BackendJSON,
		RecordsPath:     "data/ville_images.json",
		PublishEnriched: true,
		StoreEnriched:   true,

		ProfilesBackend: BackendJSON,
		ProfilesPath:    "data/users.json",

		FeatureSchema:     SchemaV2,
		TrainThreshold:    10,
		PerceptronEta:     0.1,
		PerceptronMaxIter: 1000,
		DrainBatch:        100,
	}
}

// BrokerConnectDelay returns the delay between broker connection attempts.
func (c *Config) BrokerConnectDelay() time.Duration {
	return time.Duration(c.BrokerConnectDelayMS) * time.Millisecond
}

// CollectInterval returns the collection period; zero means run once.
func (c *Config) CollectInterval() time.Duration {
	return time.Duration(c.CollectIntervalS) * time.Second
}
