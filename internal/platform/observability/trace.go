package observability

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowix-ar/storefront/internal/platform/requestctx"
)

const (
	cloudTraceHeader = "X-Cloud-Trace-Context"

	attrStoreID   = "flowix.store.id"
	attrStoreSlug = "flowix.store.slug"
)

var (
	tracer     = otel.Tracer("github.com/flowix-ar/storefront")
	w3cContext = propagation.TraceContext{}
)

// TraceMiddleware starts the server span for a request. A W3C traceparent header wins over the
// Cloud Run X-Cloud-Trace-Context header when both are present. Once the handler returns, the
// span is renamed after the matched chi route and tagged with the store the request resolved.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := remoteSpanContext(r.Header); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+requestPath(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)
			ctx, tenant := requestctx.WithTenant(ctx)
			r = r.WithContext(ctx)

			if header := cloudTraceValue(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			defer func() {
				span.SetName(r.Method + " " + routePattern(r))
				storeID, storeSlug := tenant.Store()
				span.SetAttributes(storeAttributes(SanitizeUserID(storeID), SanitizeStoreSlug(storeSlug))...)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// StartSpan opens an internal span for service level work such as order placement. The store
// recorded on the request, if any, is attached alongside attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	storeID, storeSlug := requestctx.TenantFrom(ctx).Store()
	for _, kv := range storeAttributes(SanitizeUserID(storeID), SanitizeStoreSlug(storeSlug)) {
		if !hasAttribute(attrs, kv.Key) {
			attrs = append(attrs, kv)
		}
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func storeAttributes(storeID, storeSlug string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if storeID != "" {
		attrs = append(attrs, attribute.String(attrStoreID, storeID))
	}
	if storeSlug != "" {
		attrs = append(attrs, attribute.String(attrStoreSlug, storeSlug))
	}
	return attrs
}

func hasAttribute(attrs []attribute.KeyValue, key attribute.Key) bool {
	for _, kv := range attrs {
		if kv.Key == key {
			return true
		}
	}
	return false
}

func remoteSpanContext(header http.Header) (trace.SpanContext, bool) {
	if sc := trace.SpanContextFromContext(w3cContext.Extract(context.Background(), propagation.HeaderCarrier(header))); sc.IsValid() {
		return sc, true
	}
	return parseCloudTrace(header.Get(cloudTraceHeader))
}

// parseCloudTrace reads "TRACE_ID/SPAN_ID;o=OPTIONS". Cloud Run sends the span id in decimal;
// short hex ids are accepted as well.
func parseCloudTrace(value string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseCloudSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	for _, opt := range strings.Split(options, ";") {
		if strings.TrimSpace(opt) == "o=1" {
			flags = trace.FlagsSampled
		}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseCloudSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil && n != 0 {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], n)
		return id, true
	}
	if len(value) <= 16 {
		id, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value)
		if err == nil {
			return id, true
		}
	}
	return trace.SpanID{}, false
}

func cloudTraceValue(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", info.TraceID, info.SpanID, sampled)
}

func requestPath(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return SanitizeRoute(r.URL.Path)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", requestPath(r)),
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, 0)))
	}
	return attrs
}
