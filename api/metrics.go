package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	streamRoute       = "/api/stream"
	streamSpanName    = "taskmaster.stream.request"
	streamEventName   = "stream.request"
	streamEventDomain = "taskmaster"
	tracerName        = "taskmaster/api"
)

// streamMetrics observes one stream connection: auth latency, frames
// delivered and where it failed, if anywhere. Log closes the span and
// emits a single structured observability event.
type streamMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	authDuration time.Duration
	framesSent   int
	errorStage   string
}

func newStreamMetrics(ctx context.Context, logger *log.Logger) (*streamMetrics, context.Context) {
	m := &streamMetrics{logger: logger, start: time.Now()}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, streamSpanName)
	m.span = span
	return m, spanCtx
}

func (m *streamMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *streamMetrics) AddFrame() {
	m.framesSent++
}

func (m *streamMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *streamMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", streamRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskmaster.stream.total_ms", totalMs),
		attribute.Int("taskmaster.stream.frames_sent", m.framesSent),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskmaster.stream.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskmaster.stream.error_stage", m.errorStage))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)

		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", streamEventName),
			attribute.String("event.domain", streamEventDomain),
			attribute.String("severity_text", severityText),
		}, attrs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))

		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusInternalServerError {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      streamEventName,
		"event.domain":    streamEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesAsMap(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesAsMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
