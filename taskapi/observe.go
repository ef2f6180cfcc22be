package taskapi

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "github.com/Mark-maati/collab-board/taskapi"
	requestEventName = "taskapi.request"
)

// requestObservation ties a client span to the structured log line emitted
// when the request finishes.
type requestObservation struct {
	logger log.FieldLogger
	span   trace.Span
	start  time.Time
	method string
	route  string
}

func (c *Client) observe(ctx context.Context, method, route string) (context.Context, *requestObservation) {
	ctx, span := c.tracerProvider().Tracer(tracerName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return ctx, &requestObservation{
		logger: c.logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}
}

func (o *requestObservation) End(status int, err error) {
	elapsed := durationToMillis(time.Since(o.start))
	severity, severityNumber := severityForStatus(status, err)

	if status > 0 {
		o.span.SetAttributes(attribute.Int("http.status_code", status))
	}
	o.span.SetAttributes(attribute.Float64("collab_board.api.total_ms", elapsed))
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()

	fields := log.Fields{
		"event.name":      requestEventName,
		"http.method":     o.method,
		"http.route":      o.route,
		"status":          status,
		"total_ms":        elapsed,
		"severity_text":   severity,
		"severity_number": severityNumber,
	}
	if sc := o.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := o.logger.WithFields(fields)
	switch {
	case err != nil && status >= http.StatusInternalServerError, err != nil && status == 0:
		entry.WithError(err).Warn("task api request failed")
	case err != nil:
		entry.WithError(err).Info("task api request rejected")
	default:
		entry.Debug("task api request")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
