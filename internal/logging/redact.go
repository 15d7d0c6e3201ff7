package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/autofixd/internal/config"
)

const maxPatternLen = 200

// Secret logs a credential. The field carries config.Redacted, never the
// value.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Stringer(key, val)
}

// redactor rewrites fields before they reach an output. A field whose key
// is listed is replaced outright; string values have every pattern match
// replaced in place.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// newRedactor returns nil when redaction is disabled.
func newRedactor(cfg RedactionConfig) (*redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, k := range cfg.Fields {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
	}
	return re, nil
}

func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if _, ok := r.keys[strings.ToLower(f.Key)]; ok {
		return zap.String(f.Key, config.Redacted)
	}
	if f.Type != zapcore.StringType {
		return f
	}
	v := f.String
	for _, re := range r.patterns {
		v = re.ReplaceAllString(v, config.Redacted)
	}
	if v == f.String {
		return f
	}
	return zap.String(f.Key, v)
}

// fields copies only when something changed.
func (r *redactor) fields(in []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range in {
		g := r.field(f)
		if out == nil {
			if g.Equals(f) {
				continue
			}
			out = append(make([]zapcore.Field, 0, len(in)), in[:i]...)
		}
		out = append(out, g)
	}
	if out == nil {
		return in
	}
	return out
}

func (r *redactor) wrap(c zapcore.Core) zapcore.Core {
	if r == nil {
		return c
	}
	return &redactCore{Core: c, r: r}
}

type redactCore struct {
	zapcore.Core
	r *redactor
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.fields(fields)), r: c.r}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, c.r.fields(fields))
}
