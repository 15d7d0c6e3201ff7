package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTOFIXD_"

const maxConfigBytes = 1 << 20

// LoadWithFile layers environment overrides over a YAML file over Default.
// An empty configPath means ~/.config/autofixd/config.yaml and a missing
// file is not an error.
//
// The file must sit under ~/.config/autofixd/ or /etc/autofixd/, be owner
// only (0600 or 0400) and be at most 1MB.
//
// Environment keys drop the prefix and split section from field at the
// first underscore:
//
//	AUTOFIXD_SERVER_HTTP_PORT       -> server.http_port
//	AUTOFIXD_ENGINE_PLANNER_ENABLED -> engine.planner_enabled
func LoadWithFile(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	roots := []string{filepath.Join(home, ".config", "autofixd"), "/etc/autofixd"}
	if configPath == "" {
		configPath = filepath.Join(roots[0], "config.yaml")
	}

	k := koanf.New(".")
	content, err := readTrusted(configPath, roots)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps AUTOFIXD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readTrusted returns the file at path, or nil if it does not exist. The
// path is checked against roots before anything is opened; mode and size
// are checked on the open descriptor.
func readTrusted(path string, roots []string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config path %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if !slices.ContainsFunc(roots, func(root string) bool { return within(root, abs) }) {
		return nil, fmt.Errorf("config path %s is outside %s", path, strings.Join(roots, " and "))
	}

	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm&0o077 != 0 {
		return nil, fmt.Errorf("config %s is mode %v, want 0600 or 0400", path, perm)
	}
	if info.Size() > maxConfigBytes {
		return nil, fmt.Errorf("config %s is %d bytes, limit %d", path, info.Size(), maxConfigBytes)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigBytes))
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// applyDefaults restores defaults for values an override zeroed out.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = def.NATS.URL
	}
	if cfg.NATS.EventSubject == "" {
		cfg.NATS.EventSubject = def.NATS.EventSubject
	}
	if cfg.NATS.SceneSubject == "" {
		cfg.NATS.SceneSubject = def.NATS.SceneSubject
	}
	if cfg.NATS.CommandPrefix == "" {
		cfg.NATS.CommandPrefix = def.NATS.CommandPrefix
	}
	if cfg.NATS.RebuildTimeout == 0 {
		cfg.NATS.RebuildTimeout = def.NATS.RebuildTimeout
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = def.NATS.ReconnectWait
	}

	if cfg.Engine.PlannerInterval == 0 {
		cfg.Engine.PlannerInterval = def.Engine.PlannerInterval
	}
	if cfg.Engine.HistorySize == 0 {
		cfg.Engine.HistorySize = def.Engine.HistorySize
	}
	if cfg.Engine.HypothesesSize == 0 {
		cfg.Engine.HypothesesSize = def.Engine.HypothesesSize
	}
	if cfg.Engine.ErrorRateWindow == 0 {
		cfg.Engine.ErrorRateWindow = def.Engine.ErrorRateWindow
	}

	if cfg.Rules.Dir == "" {
		cfg.Rules.Dir = def.Rules.Dir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
}
