package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/repositories"
)

// Registry hands out the Firestore repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	health   repositories.HealthRepository

	stores         *StoreRepository
	products       *ProductRepository
	orders         *OrderRepository
	plans          *PlanRepository
	users          *UserRepository
	impersonations *ImpersonationRepository
	audit          *AuditLogRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against the provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	reg := &Registry{provider: provider, health: health}

	var err error
	if reg.stores, err = NewStoreRepository(provider); err != nil {
		return nil, fmt.Errorf("store repository: %w", err)
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	if reg.plans, err = NewPlanRepository(provider); err != nil {
		return nil, fmt.Errorf("plan repository: %w", err)
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, fmt.Errorf("user repository: %w", err)
	}
	if reg.impersonations, err = NewImpersonationRepository(provider); err != nil {
		return nil, fmt.Errorf("impersonation repository: %w", err)
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, fmt.Errorf("audit log repository: %w", err)
	}
	return reg, nil
}

func (r *Registry) Stores() repositories.StoreRepository     { return r.stores }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Plans() repositories.PlanRepository       { return r.plans }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Impersonations() repositories.ImpersonationRepository {
	return r.impersonations
}
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

// Health returns the dependency health repository, which is nil unless one was supplied.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close shuts down the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
