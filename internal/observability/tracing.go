package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/model"
)

const tracerName = "github.com/pitabwire/docflow"

// Span attribute keys.
var (
	AttrEntityType = attribute.Key("docflow.entity_type")
	AttrAction     = attribute.Key("docflow.action")
	AttrDocumentID = attribute.Key("docflow.document_id")
	AttrState      = attribute.Key("docflow.state")
	AttrVersion    = attribute.Key("docflow.version")
	AttrFromState  = attribute.Key("docflow.from_state")
	AttrToState    = attribute.Key("docflow.to_state")
	AttrActorRole  = attribute.Key("docflow.actor_role")
	AttrOutcome    = attribute.Key("docflow.outcome")
	AttrErrorCode  = attribute.Key("docflow.error_code")
	AttrTenantID   = attribute.Key("docflow.tenant_id")
	AttrSubjectID  = attribute.Key("docflow.subject_id")
	AttrRoles      = attribute.Key("docflow.roles")
	AttrReplayed   = attribute.Key("docflow.idempotent_replay")
)

// InitTracing installs a global TracerProvider for serviceName. With tracing
// disabled it installs nothing and the returned shutdown is a no-op.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithProcessRuntimeName(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout)", cfg.Exporter)
	}
}

// newSampler returns a parent-based sampler with the configured root ratio,
// clamped to (0, 1]. Zero selects 0.1.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 0.1
	}
	if rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the docflow tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span on the docflow tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// DocumentAttributes describes doc as it was when the span observed it.
func DocumentAttributes(doc model.Document) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDocumentID.String(doc.ID),
		AttrEntityType.String(doc.EntityType),
		AttrState.String(doc.State),
		AttrVersion.Int(doc.Version),
	}
}

// AnnotateCaller tags the span in ctx with the authenticated caller.
func AnnotateCaller(ctx context.Context, rctx *model.RequestContext) {
	if rctx == nil {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		AttrTenantID.String(rctx.TenantID),
		AttrSubjectID.String(rctx.SubjectID),
		AttrRoles.StringSlice(rctx.Roles),
	)
}

// EndSpanWithError ends span. A caller-facing *model.ErrorEnvelope such as a
// rejected transition only tags the span with its code; internal errors and
// any other error mark the span failed.
func EndSpanWithError(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) && env.Code != model.ErrInternalError {
		span.SetAttributes(AttrErrorCode.String(env.Code))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext returns the active trace id, or "" without a span.
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext returns the active span id, or "" without a span.
func SpanIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// TracingMiddleware starts a server span for each request, continuing any W3C
// traceparent found on the inbound headers, and echoes the trace context on
// the response. Once routing is done the span is renamed to the chi route
// pattern.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()
		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		sw := &tracingStatusWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(sw, r)

		pattern := routePattern(r)
		span.SetName(r.Method + " " + pattern)
		span.SetAttributes(
			semconv.HTTPRoute(pattern),
			semconv.HTTPResponseStatusCode(sw.status),
		)
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

type tracingStatusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *tracingStatusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *tracingStatusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
