package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	if got := Logger(WithLogger(context.Background(), logger)); got != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceID(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", ProjectID: "flowix"})
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
}

func TestTenantIsSharedWithDownstreamContexts(t *testing.T) {
	ctx, tenant := WithTenant(context.Background())
	child := context.WithValue(ctx, contextKey(99), "x")

	SetStore(child, "", "tortas-ana")
	SetStore(child, "store-1", "")

	id, slug := tenant.Store()
	if id != "store-1" || slug != "tortas-ana" {
		t.Fatalf("unexpected tenant %q %q", id, slug)
	}

	again, same := WithTenant(child)
	if same != tenant || again != child {
		t.Fatalf("expected existing tenant to be reused")
	}
}

func TestSetStoreWithoutTenantIsNoop(t *testing.T) {
	SetStore(context.Background(), "store-1", "slug")
	if TenantFrom(context.Background()) != nil {
		t.Fatalf("expected no tenant")
	}
	var tenant *Tenant
	if id, slug := tenant.Store(); id != "" || slug != "" {
		t.Fatalf("nil tenant must be empty")
	}
}
