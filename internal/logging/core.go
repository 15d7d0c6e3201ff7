package logging

import (
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. The dispatcher logs per-event pipeline
// stages at this level.
const TraceLevel = zapcore.Level(-2)

// bridgeScope names the otelzap instrumentation scope.
const bridgeScope = "github.com/fyrsmithlabs/autofixd"

// LevelFromString parses a level name. "trace" is accepted alongside the
// zap names and an empty string means info.
func LevelFromString(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "trace" {
		return TraceLevel, nil
	}
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// buildCore assembles the output cores, each behind the redactor, and
// puts the sampler in front of the lot.
func buildCore(cfg *Config, w io.Writer, lp log.LoggerProvider) (zapcore.Core, error) {
	r, err := newRedactor(cfg.Redaction)
	if err != nil {
		return nil, err
	}

	var outputs []zapcore.Core
	if cfg.Output.Stdout {
		outputs = append(outputs, r.wrap(zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(w), cfg.Level)))
	}
	if cfg.Output.OTEL && lp != nil {
		outputs = append(outputs, r.wrap(otelzap.NewCore(bridgeScope, otelzap.WithLoggerProvider(lp))))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no log output available")
	}

	core := zapcore.NewTee(outputs...)
	if !cfg.Sampling.Enabled {
		return core, nil
	}
	return &severitySplit{
		full:    core,
		sampled: zapcore.NewSamplerWithOptions(core, cfg.Sampling.Tick, cfg.Sampling.Initial, cfg.Sampling.Thereafter),
	}, nil
}

// severitySplit samples entries below error level. Errors and above go to
// the full core unsampled.
type severitySplit struct {
	full    zapcore.Core
	sampled zapcore.Core
}

func (s *severitySplit) Enabled(l zapcore.Level) bool { return s.full.Enabled(l) }

func (s *severitySplit) With(fields []zapcore.Field) zapcore.Core {
	return &severitySplit{full: s.full.With(fields), sampled: s.sampled.With(fields)}
}

func (s *severitySplit) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return s.full.Check(e, ce)
	}
	return s.sampled.Check(e, ce)
}

func (s *severitySplit) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return s.full.Write(e, fields)
}

func (s *severitySplit) Sync() error { return s.full.Sync() }
