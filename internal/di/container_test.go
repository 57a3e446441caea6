package di

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/flowix-ar/storefront/internal/platform/config"
	"github.com/flowix-ar/storefront/internal/repositories"
	"github.com/flowix-ar/storefront/internal/services"
)

type stubStores struct{ repositories.StoreRepository }
type stubProducts struct{ repositories.ProductRepository }
type stubOrders struct{ repositories.OrderRepository }
type stubPlans struct{ repositories.PlanRepository }
type stubUsers struct{ repositories.UserRepository }
type stubSessions struct{ repositories.ImpersonationRepository }
type stubAudit struct{ repositories.AuditLogRepository }
type stubHealth struct{ repositories.HealthRepository }

type stubAuth struct{ services.UserAuthAdmin }
type stubLinks struct{ services.OrderLinkBuilder }

type stubRegistry struct {
	stores         repositories.StoreRepository
	products       repositories.ProductRepository
	orders         repositories.OrderRepository
	plans          repositories.PlanRepository
	users          repositories.UserRepository
	impersonations repositories.ImpersonationRepository
	audit          repositories.AuditLogRepository
	health         repositories.HealthRepository

	closed   bool
	closeErr error
}

func (r *stubRegistry) Stores() repositories.StoreRepository     { return r.stores }
func (r *stubRegistry) Products() repositories.ProductRepository { return r.products }
func (r *stubRegistry) Orders() repositories.OrderRepository     { return r.orders }
func (r *stubRegistry) Plans() repositories.PlanRepository       { return r.plans }
func (r *stubRegistry) Users() repositories.UserRepository       { return r.users }
func (r *stubRegistry) Impersonations() repositories.ImpersonationRepository {
	return r.impersonations
}
func (r *stubRegistry) AuditLogs() repositories.AuditLogRepository { return r.audit }
func (r *stubRegistry) Health() repositories.HealthRepository       { return r.health }
func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return r.closeErr
}

func fullRegistry() *stubRegistry {
	return &stubRegistry{
		stores:         stubStores{},
		products:       stubProducts{},
		orders:         stubOrders{},
		plans:          stubPlans{},
		users:          stubUsers{},
		impersonations: stubSessions{},
		audit:          stubAudit{},
	}
}

func testConfig() config.Config {
	return config.Config{Storefront: config.StorefrontConfig{DefaultPlanID: "free"}}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(testConfig(), nil, Integrations{}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerBuildsAllServices(t *testing.T) {
	reg := fullRegistry()
	reg.health = stubHealth{}

	c, err := NewContainer(testConfig(), reg, Integrations{Auth: stubAuth{}, Links: stubLinks{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := c.Services
	checks := map[string]bool{
		"stores":         svc.Stores != nil,
		"products":       svc.Products != nil,
		"orders":         svc.Orders != nil,
		"billing":        svc.Billing != nil,
		"plans":          svc.Plans != nil,
		"users":          svc.Users != nil,
		"impersonations": svc.Impersonations != nil,
		"audit":          svc.Audit != nil,
		"search":         svc.Search != nil,
		"system":         svc.System != nil,
	}
	for name, ok := range checks {
		if !ok {
			t.Errorf("expected %s service to be wired", name)
		}
	}
}

func TestNewContainerSkipsServicesWithoutCollaborators(t *testing.T) {
	c, err := NewContainer(testConfig(), fullRegistry(), Integrations{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Services.Orders != nil {
		t.Fatalf("order service needs a link builder")
	}
	if c.Services.Impersonations != nil {
		t.Fatalf("impersonation service needs an auth admin")
	}
	if c.Services.System != nil {
		t.Fatalf("system service needs a health repository")
	}
	if c.Services.Stores == nil || c.Services.Users == nil {
		t.Fatalf("expected stores and users to be wired")
	}
}

func TestNewContainerOnlyPlans(t *testing.T) {
	reg := &stubRegistry{plans: stubPlans{}}
	c, err := NewContainer(testConfig(), reg, Integrations{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Services.Plans == nil {
		t.Fatalf("expected plan service")
	}
	if c.Services.Stores != nil || c.Services.Billing != nil || c.Services.Search != nil {
		t.Fatalf("store-backed services must stay unwired without a store repository")
	}
}

func TestNewContainerPropagatesServiceErrors(t *testing.T) {
	_, err := NewContainer(config.Config{}, fullRegistry(), Integrations{})
	if err == nil || !strings.Contains(err.Error(), "build store service") {
		t.Fatalf("expected store service error, got %v", err)
	}
}

func TestContainerClose(t *testing.T) {
	reg := fullRegistry()
	reg.closeErr = errors.New("boom")
	c, err := NewContainer(testConfig(), reg, Integrations{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(context.Background()); !errors.Is(err, reg.closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}

	var nilContainer *Container
	if err := nilContainer.Close(context.Background()); err != nil {
		t.Fatalf("nil container close: %v", err)
	}
}
