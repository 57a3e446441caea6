package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/flowix-ar/storefront/internal/platform/config"
	"github.com/flowix-ar/storefront/internal/platform/observability"
	"github.com/flowix-ar/storefront/internal/repositories"
	"github.com/flowix-ar/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers and the CLI rely upon.
type Services struct {
	Stores         services.StoreService
	Products       services.ProductService
	Orders         services.OrderService
	Billing        services.BillingService
	Plans          services.PlanService
	Users          services.UserService
	Impersonations services.ImpersonationService
	Audit          services.AuditLogService
	Search         services.SearchService
	System         services.SystemService
}

// TextRenderer sanitises plain text fields and renders product descriptions.
type TextRenderer interface {
	services.TextSanitizer
	services.DescriptionRenderer
}

// Integrations carries the external collaborators that sit outside the repository registry.
// Optional integrations left nil disable the services or features that need them.
type Integrations struct {
	Auth           services.UserAuthAdmin
	Billing        services.BillingProvider
	Exports        services.ExportStorage
	Events         services.OrderEventPublisher
	Links          services.OrderLinkBuilder
	Text           TextRenderer
	Meter          metric.Meter
	Logger         *zap.Logger
	ExportLocation *time.Location
	Build          services.BuildInfo
	Clock          func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, integ Integrations) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, integ)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases the repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, integ Integrations) (Services, error) {
	var svc Services

	logger := integ.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := integ.Clock
	if clock == nil {
		clock = time.Now
	}
	events := func(name string) func(ctx context.Context, event string, fields map[string]any) {
		return observability.EventLogger(logger.Named(name))
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
			Logger:     events("audit"),
			HashSalt:   cfg.Audit.HashSalt,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	storesRepo := reg.Stores()
	productsRepo := reg.Products()
	plansRepo := reg.Plans()
	usersRepo := reg.Users()

	if plansRepo != nil {
		planSvc, err := services.NewPlanService(services.PlanServiceDeps{
			Plans:  plansRepo,
			Audit:  svc.Audit,
			Clock:  clock,
			Logger: events("plans"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build plan service: %w", err)
		}
		svc.Plans = planSvc
	}

	if usersRepo != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:  usersRepo,
			Auth:   integ.Auth,
			Audit:  svc.Audit,
			Clock:  clock,
			Logger: events("users"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	var (
		text     services.TextSanitizer
		renderer services.DescriptionRenderer
	)
	if integ.Text != nil {
		text, renderer = integ.Text, integ.Text
	}

	if storesRepo != nil && plansRepo != nil {
		storeSvc, err := services.NewStoreService(services.StoreServiceDeps{
			Stores:        storesRepo,
			Plans:         plansRepo,
			Users:         usersRepo,
			Text:          text,
			Audit:         svc.Audit,
			Clock:         clock,
			Logger:        events("stores"),
			DefaultPlanID: cfg.Storefront.DefaultPlanID,
			TrialPeriod:   cfg.Storefront.TrialPeriod,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build store service: %w", err)
		}
		svc.Stores = storeSvc
	}

	pricer := services.NewVariantPricer()

	if storesRepo != nil && productsRepo != nil {
		productSvc, err := services.NewProductService(services.ProductServiceDeps{
			Stores:   storesRepo,
			Products: productsRepo,
			Plans:    plansRepo,
			Pricer:   pricer,
			Renderer: renderer,
			Audit:    svc.Audit,
			Clock:    clock,
			Logger:   events("products"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build product service: %w", err)
		}
		svc.Products = productSvc
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil && storesRepo != nil && productsRepo != nil && integ.Links != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Stores:         storesRepo,
			Products:       productsRepo,
			Orders:         ordersRepo,
			Pricer:         pricer,
			Links:          integ.Links,
			Events:         integ.Events,
			Exports:        integ.Exports,
			Audit:          svc.Audit,
			Meter:          integ.Meter,
			ExportLocation: integ.ExportLocation,
			Clock:          clock,
			Logger:         events("orders"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if storesRepo != nil {
		billingSvc, err := services.NewBillingService(services.BillingServiceDeps{
			Stores:   storesRepo,
			Provider: integ.Billing,
			Audit:    svc.Audit,
			Clock:    clock,
			Logger:   events("billing"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build billing service: %w", err)
		}
		svc.Billing = billingSvc
	}

	if sessions := reg.Impersonations(); sessions != nil && usersRepo != nil && integ.Auth != nil {
		impersonationSvc, err := services.NewImpersonationService(services.ImpersonationServiceDeps{
			Sessions: sessions,
			Users:    usersRepo,
			Auth:     integ.Auth,
			Audit:    svc.Audit,
			TTL:      cfg.Impersonation.TTL,
			Clock:    clock,
			Logger:   events("impersonation"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build impersonation service: %w", err)
		}
		svc.Impersonations = impersonationSvc
	}

	if storesRepo != nil && usersRepo != nil {
		searchSvc, err := services.NewSearchService(services.SearchServiceDeps{
			Stores: storesRepo,
			Users:  usersRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build search service: %w", err)
		}
		svc.Search = searchSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := integ.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
