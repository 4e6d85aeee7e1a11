package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/contestboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"CONTESTBOARD_CONFIG",
	"CONTESTBOARD_ADDR",
	"CONTESTBOARD_QUEUE_SIZE",
	"CONTESTBOARD_WORKER_COUNT",
	"CONTESTBOARD_CACHE_BACKEND",
	"CONTESTBOARD_CACHE_TTL_SECONDS",
	"CONTESTBOARD_LEADERBOARD_SIZE",
	"CONTESTBOARD_REDIS_ADDR",
	"CONTESTBOARD_STORE_QUERY_TIMEOUT_MS",
	"CONTESTBOARD_METRICS_SUBSYSTEM",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "contestboard-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.CacheTTLSeconds, convey.ShouldEqual, 300)
				convey.So(cfg.LeaderboardSize, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CONTESTBOARD_ADDR", ":8080")
			_ = os.Setenv("CONTESTBOARD_QUEUE_SIZE", "500")
			_ = os.Setenv("CONTESTBOARD_CACHE_BACKEND", "memory")
			_ = os.Setenv("CONTESTBOARD_CACHE_TTL_SECONDS", "30")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.CacheBackend, convey.ShouldEqual, config.CacheBackendMemory)
				convey.So(cfg.CacheTTLSeconds, convey.ShouldEqual, 30)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
queue_size: 3000
worker_count: 24
leaderboard_size: 25
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("CONTESTBOARD_CONFIG", tmpFile)
			_ = os.Setenv("CONTESTBOARD_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 3000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.LeaderboardSize, convey.ShouldEqual, 25)
				convey.So(cfg.CacheDepth, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading metrics and timeout settings", func() {
			tmpFile := createTempConfigFile(`
metrics_namespace: "judge"
metrics_latency_buckets_ms: [1, 5, 25]
recompute_timeout_ms: 2500
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("CONTESTBOARD_CONFIG", tmpFile)
			_ = os.Setenv("CONTESTBOARD_STORE_QUERY_TIMEOUT_MS", "750")
			_ = os.Setenv("CONTESTBOARD_METRICS_SUBSYSTEM", "ranks")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they reach the config", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "judge")
				convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "ranks")
				convey.So(cfg.MetricsLatencyBucketsMS, convey.ShouldResemble, []float64{1, 5, 25})
				convey.So(cfg.RecomputeTimeoutMS, convey.ShouldEqual, 2500)
				convey.So(cfg.StoreQueryTimeoutMS, convey.ShouldEqual, 750)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("CONTESTBOARD_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("CONTESTBOARD_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("CONTESTBOARD_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
			})
		})

		convey.Convey("When the default page size exceeds the limit", func() {
			_ = os.Setenv("CONTESTBOARD_LEADERBOARD_SIZE", "500")

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
