package main

import (
	"os"
	"time"

	"github.com/fluxorio/hellopool/pkg/config"
	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/observability/otel"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

// EnvPrefix prefixes every environment override, e.g. HELLOPOOL_SERVER_WORKERS.
const EnvPrefix = "HELLOPOOL"

// AppConfig is read once at startup; nothing in it changes while serving.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       core.LogConfig  `yaml:"log" json:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   otel.Config     `yaml:"tracing" json:"tracing"`
	AccessLog AccessLogConfig `yaml:"accesslog" json:"accesslog"`
}

type ServerConfig struct {
	Addr         string          `yaml:"addr" json:"addr"`
	Workers      int             `yaml:"workers" json:"workers"`
	PollInterval config.Duration `yaml:"poll_interval" json:"poll_interval"`
	Root         string          `yaml:"root" json:"root"`
	ReadTimeout  config.Duration `yaml:"read_timeout" json:"read_timeout"`
}

type MetricsConfig struct {
	// Addr serves /metrics over HTTP. Empty disables the endpoint.
	Addr     string          `yaml:"addr" json:"addr"`
	Interval config.Duration `yaml:"interval" json:"interval"`
}

type AccessLogConfig struct {
	Log        bool   `yaml:"log" json:"log"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	NATSURL    string `yaml:"nats_url" json:"nats_url"`
	NATSPrefix string `yaml:"nats_prefix" json:"nats_prefix"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:         tcp.DefaultAddr,
			Workers:      tcp.DefaultWorkers,
			PollInterval: config.Duration(tcp.DefaultPollInterval),
			Root:         ".",
		},
		Log: core.LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{
			Interval: config.Duration(5 * time.Second),
		},
		Tracing: otel.Config{
			ServiceName: "hellopool",
			Exporter:    otel.ExporterNone,
			SampleRate:  1.0,
		},
		AccessLog: AccessLogConfig{
			Log:        true,
			NATSPrefix: "hellopool",
		},
	}
}

// loadConfig applies, in order: defaults, the config file, HELLOPOOL_*
// environment overrides. path falls back to $CONFIG_PATH, then to
// hellopool.yaml when that file exists.
func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("hellopool.yaml"); err == nil {
			path = "hellopool.yaml"
		}
	}
	if err := config.LoadWithEnv(path, EnvPrefix, cfg); err != nil {
		return nil, err
	}

	if err := config.Validate(cfg,
		config.RequiredFields("Server.Addr", "Server.Root"),
		config.RangeValidator("Server.Workers", 1, 1024),
		config.OneOfValidator("Log.Format", "console", "json"),
		config.OneOfValidator("Tracing.Exporter", "", otel.ExporterNone, otel.ExporterStdout, otel.ExporterZipkin),
		config.RangeValidator("Tracing.SampleRate", 0, 1),
		config.PositiveDuration("Server.PollInterval"),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}
