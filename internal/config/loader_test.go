package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/receval/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RECEVAL_ADDR", ":8080")
			_ = os.Setenv("RECEVAL_DEFAULT_K", "20")
			_ = os.Setenv("RECEVAL_QUANTILE", "0.9")
			_ = os.Setenv("RECEVAL_RESULTS_DIR", "/tmp/results")
			_ = os.Setenv("RECEVAL_MIN_TEST_USER_TEST", "3")

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DefaultK, convey.ShouldEqual, 20)
				convey.So(cfg.Quantile, convey.ShouldEqual, 0.9)
				convey.So(cfg.ResultsDir, convey.ShouldEqual, "/tmp/results")
				convey.So(cfg.MinTestUserTest, convey.ShouldEqual, 3)
				convey.So(cfg.MinTrainRatings, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := writeConfig(t, `
addr: ":9090"
worker_count: 3
batch_concurrency: 2
time_column: ts
log_format: json
`)
			_ = os.Setenv(config.EnvConfigFile, path)

			cfg, err := config.Load()

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.BatchConcurrency, convey.ShouldEqual, 2)
				convey.So(cfg.TimeColumn, convey.ShouldEqual, "ts")
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})

			convey.Convey("And env vars take precedence over the file", func() {
				_ = os.Setenv("RECEVAL_ADDR", ":7070")
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the YAML file is invalid", func() {
			_ = os.Setenv(config.EnvConfigFile, writeConfig(t, "addr: [unterminated"))
			_, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			_ = os.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load()
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When an env var breaks validation", func() {
			_ = os.Setenv("RECEVAL_QUANTILE", "1.5")
			_, err := config.Load()

			convey.Convey("Then the config is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an env var cannot be decoded", func() {
			_ = os.Setenv("RECEVAL_DEFAULT_K", "ten")
			_, err := config.Load()
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receval.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
