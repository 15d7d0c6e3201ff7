// Package logging builds the zap logger used across autofixd.
//
// The logger writes JSON or console output to stdout and, optionally, to an
// OpenTelemetry log provider through the otelzap bridge. Entries below error
// level are sampled. String fields named like credentials, and values that
// look like bearer tokens or NATS URLs with embedded passwords, are redacted
// before any output sees them.
//
// Engine components take a plain *zap.Logger (see Logger.Underlying) and
// log through Wrap. The context-aware methods add correlation fields set
// with WithEngineID, WithEventID, WithTickID and WithRequestID, plus
// trace_id and span_id from the active span:
//
//	ctx = logging.WithTickID(ctx, tickID)
//	log.Info(ctx, "planner decision", zap.String("action", d.Action))
//
// The engine loop runs requests under its own context; Correlate carries
// the caller's ids and span onto it.
package logging
