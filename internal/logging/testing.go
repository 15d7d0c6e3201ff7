package logging

import (
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/autofixd/internal/config"
)

// TestLogger is a Logger at trace level whose entries are kept in memory.
// Entries are recorded before redaction so tests can see what components
// tried to log.
type TestLogger struct {
	*Logger
	*observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger:       wrap(zap.New(core), NewDefaultConfig()),
		ObservedLogs: logs,
	}
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() { _ = t.TakeAll() }

// AssertLogged fails unless an entry at level has msgContains in its message.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	hits := t.Filter(func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, msgContains)
	})
	if hits.Len() == 0 {
		tb.Errorf("no %v entry containing %q in %d entries", level, msgContains, t.Len())
	}
}

// AssertField fails unless an entry logged as msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.FilterMessage(msg).All() {
		if e.ContextMap()[key] == expected {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, expected)
}

// AssertNoSecrets fails if a field named like a credential was logged as a
// plain string rather than through Secret.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	keys := NewDefaultConfig().Redaction.Fields
	for _, e := range t.All() {
		for _, f := range e.Context {
			if f.Type == zapcore.StringType && f.String != config.Redacted &&
				slices.Contains(keys, strings.ToLower(f.Key)) {
				tb.Errorf("%q logged credential field %q in clear", e.Message, f.Key)
			}
		}
	}
}
