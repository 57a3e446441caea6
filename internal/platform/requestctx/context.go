// Package requestctx carries per-request logging, trace and tenant metadata on the context.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	tenantKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Tenant records which store a request ended up operating on. The request logger installs an
// empty Tenant up front and handlers fill it in once the store is resolved.
type Tenant struct {
	mu        sync.Mutex
	storeID   string
	storeSlug string
}

// Set records the store. Empty values leave the previous value in place.
func (t *Tenant) Set(storeID, storeSlug string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if storeID != "" {
		t.storeID = storeID
	}
	if storeSlug != "" {
		t.storeSlug = storeSlug
	}
}

// Store returns the recorded store id and slug.
func (t *Tenant) Store() (storeID, storeSlug string) {
	if t == nil {
		return "", ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storeID, t.storeSlug
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithTenant attaches a fresh Tenant, reusing one already on the context.
func WithTenant(ctx context.Context) (context.Context, *Tenant) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tenant := TenantFrom(ctx); tenant != nil {
		return ctx, tenant
	}
	tenant := &Tenant{}
	return context.WithValue(ctx, tenantKey, tenant), tenant
}

// TenantFrom returns the request tenant or nil when none was installed.
func TenantFrom(ctx context.Context) *Tenant {
	if ctx == nil {
		return nil
	}
	tenant, _ := ctx.Value(tenantKey).(*Tenant)
	return tenant
}

// SetStore records the store on the request tenant, if any.
func SetStore(ctx context.Context, storeID, storeSlug string) {
	TenantFrom(ctx).Set(storeID, storeSlug)
}
