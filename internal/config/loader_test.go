package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/villes/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have the pipeline defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.BrokerConnectRetries, convey.ShouldEqual, 10)
			convey.So(cfg.BrokerConnectDelay().Seconds(), convey.ShouldEqual, 5)
			convey.So(cfg.ColorsK, convey.ShouldEqual, 3)
			convey.So(cfg.TrainThreshold, convey.ShouldEqual, 10)
			convey.So(cfg.PerceptronEta, convey.ShouldEqual, 0.1)
			convey.So(cfg.PerceptronMaxIter, convey.ShouldEqual, 1000)
			convey.So(cfg.FeatureSchema, convey.ShouldEqual, config.SchemaV2)
			convey.So(cfg.CollectInterval(), convey.ShouldEqual, 0)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.BrokerURL, convey.ShouldEqual, "nats://localhost:4222")
				convey.So(cfg.RecordsBackend, convey.ShouldEqual, config.BackendJSON)
				convey.So(cfg.PublishEnriched, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("VILLES_ADDR", ":8080")
			t.Setenv("VILLES_BROKER_CONNECT_RETRIES", "3")
			t.Setenv("VILLES_TRAIN_THRESHOLD", "4")
			t.Setenv("VILLES_PERCEPTRON_ETA", "0.5")
			t.Setenv("VILLES_PUBLISH_ENRICHED", "false")
			t.Setenv("VILLES_SOURCE", "synthetic")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BrokerConnectRetries, convey.ShouldEqual, 3)
				convey.So(cfg.TrainThreshold, convey.ShouldEqual, 4)
				convey.So(cfg.PerceptronEta, convey.ShouldEqual, 0.5)
				convey.So(cfg.PublishEnriched, convey.ShouldBeFalse)
				convey.So(cfg.Source, convey.ShouldEqual, config.SourceSynthetic)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			path := writeConfigFile(t, `
addr: ":9090"
records_backend: sqlite
records_path: /tmp/villes.db
colors_k: 5
`)
			t.Setenv("VILLES_CONFIG", path)
			t.Setenv("VILLES_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.RecordsBackend, convey.ShouldEqual, config.BackendSQLite)
				convey.So(cfg.RecordsPath, convey.ShouldEqual, "/tmp/villes.db")
				convey.So(cfg.ColorsK, convey.ShouldEqual, 5)
				convey.So(cfg.ColorsSampleSide, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			t.Setenv("VILLES_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			t.Setenv("VILLES_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			t.Setenv("VILLES_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown backend", func() {
			t.Setenv("VILLES_PROFILES_BACKEND", "redis")

			_, err := config.Load(ctx)

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "profiles_backend")
			})
		})

		convey.Convey("When both enriched sinks are disabled", func() {
			t.Setenv("VILLES_PUBLISH_ENRICHED", "false")
			t.Setenv("VILLES_STORE_ENRICHED", "false")

			_, err := config.Load(ctx)

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "villes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearConfigEnvVars unsets every VILLES_ variable; t.Setenv restores them at cleanup.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
}
