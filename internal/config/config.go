// Package config provides configuration loading for autofixd.
//
// Configuration starts from Default, is overlaid with an optional YAML file
// and then with AUTOFIXD_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Config holds the complete autofixd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Engine    EngineConfig    `koanf:"engine"`
	Rules     RulesConfig     `koanf:"rules"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds the HTTP control surface configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NATSConfig holds the event feed and command transport configuration.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	Token          Secret   `koanf:"token"`
	EventSubject   string   `koanf:"event_subject"`
	SceneSubject   string   `koanf:"scene_subject"`
	CommandPrefix  string   `koanf:"command_prefix"`
	RebuildTimeout Duration `koanf:"rebuild_timeout"`
	MaxReconnects  int      `koanf:"max_reconnects"`
	ReconnectWait  Duration `koanf:"reconnect_wait"`
}

// EngineConfig tunes the dispatcher, planner and memory.
type EngineConfig struct {
	PlannerInterval     Duration `koanf:"planner_interval"`
	PlannerEnabled      bool     `koanf:"planner_enabled"`
	DispatcherAutostart bool     `koanf:"dispatcher_autostart"`
	AutoApplyThreshold  float64  `koanf:"auto_apply_threshold"`
	SuggestThreshold    float64  `koanf:"suggest_threshold"`
	HistorySize         int      `koanf:"history_size"`
	HypothesesSize      int      `koanf:"hypotheses_size"`
	ErrorRateWindow     int      `koanf:"error_rate_window"`
	ErrorRateThreshold  float64  `koanf:"error_rate_threshold"`
}

// RulesConfig locates the configuration documents the engine patches.
type RulesConfig struct {
	// Dir is the root every document path is resolved against.
	Dir string `koanf:"dir"`
	// ConfigFile is the game rules document, relative to Dir.
	ConfigFile string `koanf:"config_file"`
	// Watch reloads documents edited outside the daemon.
	Watch bool `koanf:"watch"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			EventSubject:   "autofix.events",
			SceneSubject:   "autofix.scene.snapshot",
			CommandPrefix:  "autofix.cmd",
			RebuildTimeout: Duration(2 * time.Minute),
			MaxReconnects:  -1,
			ReconnectWait:  Duration(time.Second),
		},
		Engine: EngineConfig{
			PlannerInterval:     Duration(2 * time.Second),
			PlannerEnabled:      true,
			DispatcherAutostart: true,
			AutoApplyThreshold:  0.8,
			SuggestThreshold:    0.6,
			HistorySize:         1000,
			HypothesesSize:      100,
			ErrorRateWindow:     50,
			ErrorRateThreshold:  0.3,
		},
		Rules: RulesConfig{
			Dir:        ".",
			ConfigFile: "GameConfig/card_rules.json",
			Watch:      true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "autofixd",
			ServiceVersion: "0.1.0",
			SamplingRate:   1.0,
			MetricsEnabled: true,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if u, err := url.Parse(c.NATS.URL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("invalid nats url: %q", c.NATS.URL))
	}
	if c.NATS.EventSubject == "" || c.NATS.CommandPrefix == "" {
		errs = append(errs, errors.New("nats event_subject and command_prefix are required"))
	}

	e := c.Engine
	if e.PlannerInterval <= 0 {
		errs = append(errs, errors.New("engine planner_interval must be positive"))
	}
	if e.SuggestThreshold <= 0 || e.AutoApplyThreshold > 1 || e.SuggestThreshold >= e.AutoApplyThreshold {
		errs = append(errs, fmt.Errorf("engine thresholds must satisfy 0 < suggest (%g) < auto_apply (%g) <= 1",
			e.SuggestThreshold, e.AutoApplyThreshold))
	}
	if e.HistorySize < 1 || e.HypothesesSize < 1 || e.ErrorRateWindow < 1 {
		errs = append(errs, errors.New("engine history_size, hypotheses_size and error_rate_window must be positive"))
	}

	if c.Rules.ConfigFile == "" {
		errs = append(errs, errors.New("rules config_file is required"))
	} else if filepath.IsAbs(c.Rules.ConfigFile) {
		errs = append(errs, fmt.Errorf("rules config_file must be relative to rules dir: %s", c.Rules.ConfigFile))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			errs = append(errs, fmt.Errorf("telemetry protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
		}
	}

	return errors.Join(errs...)
}
