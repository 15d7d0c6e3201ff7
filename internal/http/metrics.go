package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/autofixd/internal/http"

const plannerTickRoute = "/api/v1/planner/tick"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// controlMetrics instruments the control surface. Instruments that fail to
// register stay nil and are skipped.
type controlMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	ticks    metric.Int64Counter
}

func newControlMetrics(logger *zap.Logger) *controlMetrics {
	meter := otel.Meter(meterName)
	m := &controlMetrics{}

	var errs []error
	var err error
	m.requests, err = meter.Int64Counter("autofixd.http.requests",
		metric.WithDescription("Control-surface requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	m.latency, err = meter.Float64Histogram("autofixd.http.request.duration",
		metric.WithDescription("Control-surface request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = append(errs, err)
	m.inFlight, err = meter.Int64UpDownCounter("autofixd.http.requests.in_flight",
		metric.WithDescription("Control-surface requests being served"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	m.ticks, err = meter.Int64Counter("autofixd.http.planner.ticks",
		metric.WithDescription("Manual planner ticks by outcome"),
		metric.WithUnit("{tick}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("http instruments unavailable", zap.Error(err))
	}
	return m
}

// middleware records every request under its route template. Manual planner
// ticks are also counted by the X-Planner-Status they returned.
func (m *controlMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.ticks != nil && route == plannerTickRoute {
				outcome := c.Response().Header().Get(HeaderPlannerStatus)
				if outcome == "" {
					outcome = "error"
				}
				m.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
			}
			return err
		}
	}
}
