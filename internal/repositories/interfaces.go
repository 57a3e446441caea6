package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

var (
	// ErrStoreSlugTaken is returned when another store already reserved the slug.
	ErrStoreSlugTaken = errors.New("repositories: store slug already reserved")
	// ErrStoreOwnerExists is returned when the owner already has a store.
	ErrStoreOwnerExists = errors.New("repositories: owner already has a store")
	// ErrProductLimitReached is returned when a store already holds the allowed number of products.
	ErrProductLimitReached = errors.New("repositories: store product limit reached")
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Registry exposes repository implementations to the dependency container. Accessors may return
// nil when a backend is not configured; the dependent services are then left unwired.
type Registry interface {
	Stores() StoreRepository
	Products() ProductRepository
	Orders() OrderRepository
	Plans() PlanRepository
	Users() UserRepository
	Impersonations() ImpersonationRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	Close(ctx context.Context) error
}

// StoreRepository persists merchant stores together with their slug and owner reservations.
type StoreRepository interface {
	// Create inserts the store and its slug/owner reservations atomically.
	Create(ctx context.Context, store domain.Store) error
	Update(ctx context.Context, store domain.Store) error
	// Mutate loads the store inside a transaction, applies fn and persists the result.
	Mutate(ctx context.Context, storeID string, fn func(store *domain.Store) error) (domain.Store, error)
	Get(ctx context.Context, storeID string) (domain.Store, error)
	FindBySlug(ctx context.Context, slug string) (domain.Store, error)
	FindByOwner(ctx context.Context, ownerUID string) (domain.Store, error)
	FindBySubscription(ctx context.Context, subscriptionID string) (domain.Store, error)
	List(ctx context.Context, filter StoreFilter) (domain.CursorPage[domain.Store], error)
}

// ProductRepository persists products below their store.
type ProductRepository interface {
	// Create inserts the product. A positive maxProducts caps how many products the store may
	// hold; the count check and the insert commit together, and a full store yields
	// ErrProductLimitReached.
	Create(ctx context.Context, product domain.Product, maxProducts int) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, storeID, productID string) error
	Get(ctx context.Context, storeID, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductFilter) (domain.CursorPage[domain.Product], error)
}

// OrderRepository persists WhatsApp orders below their store.
type OrderRepository interface {
	// Create assigns the next per-store order number and inserts the order in one transaction.
	// finalize, when set, runs after numbering and before the write; its error aborts the insert.
	Create(ctx context.Context, order domain.Order, finalize func(order *domain.Order) error) (domain.Order, error)
	Get(ctx context.Context, storeID, orderID string) (domain.Order, error)
	// Mutate loads the order inside a transaction, applies fn and persists the result.
	Mutate(ctx context.Context, storeID, orderID string, fn func(order *domain.Order) error) (domain.Order, error)
	List(ctx context.Context, filter OrderFilter) (domain.CursorPage[domain.Order], error)
}

// PlanRepository persists subscription plans.
type PlanRepository interface {
	Get(ctx context.Context, planID string) (domain.Plan, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Plan, error)
	Upsert(ctx context.Context, plan domain.Plan) error
}

// UserRepository persists platform user profiles.
type UserRepository interface {
	Get(ctx context.Context, uid string) (domain.UserProfile, error)
	Upsert(ctx context.Context, profile domain.UserProfile) error
	List(ctx context.Context, filter UserFilter) (domain.CursorPage[domain.UserProfile], error)
}

// ImpersonationRepository persists impersonation sessions.
type ImpersonationRepository interface {
	Create(ctx context.Context, session domain.ImpersonationSession) error
	Get(ctx context.Context, sessionID string) (domain.ImpersonationSession, error)
	// End marks the session ended unless it already was; the stored session is returned.
	End(ctx context.Context, sessionID string, endedAt time.Time, endedBy string) (domain.ImpersonationSession, error)
	List(ctx context.Context, filter ImpersonationFilter) (domain.CursorPage[domain.ImpersonationSession], error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.ImpersonationSession, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// StoreFilter narrows store listings. NamePrefix must already be a normalised search key.
type StoreFilter struct {
	Status           domain.StoreStatus
	PlanID           string
	NamePrefix       string
	WithSubscription bool
	Pagination       domain.Pagination
}

// ProductFilter narrows product listings for a store.
type ProductFilter struct {
	StoreID    string
	ActiveOnly bool
	Pagination domain.Pagination
}

// OrderFilter narrows order listings for a store.
type OrderFilter struct {
	StoreID    string
	Status     domain.OrderStatus
	Since      *time.Time
	Until      *time.Time
	Pagination domain.Pagination
}

// UserFilter narrows user listings. Prefix must already be a normalised search key and matches
// either the email or the display name.
type UserFilter struct {
	Role       domain.UserRole
	Prefix     string
	Pagination domain.Pagination
}

// ImpersonationFilter narrows impersonation listings.
type ImpersonationFilter struct {
	AdminUID   string
	TargetUID  string
	ActiveOnly bool
	Now        time.Time
	Pagination domain.Pagination
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination domain.Pagination
}
