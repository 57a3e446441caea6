package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// StoreStatus describes whether a store is visible to buyers.
type StoreStatus string

const (
	// StoreStatusActive stores are publicly reachable.
	StoreStatusActive StoreStatus = "active"
	// StoreStatusSuspended stores are hidden from buyers by a super admin.
	StoreStatusSuspended StoreStatus = "suspended"
)

// BillingStatus mirrors the subscription lifecycle of a store.
type BillingStatus string

const (
	BillingStatusTrialing BillingStatus = "trialing"
	BillingStatusActive   BillingStatus = "active"
	BillingStatusPastDue  BillingStatus = "past_due"
	BillingStatusCanceled BillingStatus = "canceled"
	// BillingStatusComped marks stores granted free access by an admin.
	BillingStatusComped BillingStatus = "comped"
)

// Valid reports whether the status is recognised.
func (s BillingStatus) Valid() bool {
	switch s {
	case BillingStatusTrialing, BillingStatusActive, BillingStatusPastDue, BillingStatusCanceled, BillingStatusComped:
		return true
	}
	return false
}

// BillingState tracks the commercial standing of a store.
type BillingState struct {
	Status               BillingStatus
	PaidUntil            *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	Note                 string
	UpdatedAt            time.Time
	UpdatedBy            string
}

// Store is a merchant's storefront.
type Store struct {
	ID              string
	OwnerUID        string
	Slug            string
	Name            string
	Description     string
	WhatsAppNumber  string
	Currency        string
	Locale          string
	LogoURL         string
	Status          StoreStatus
	SuspendedReason string
	PlanID          string
	Billing         BillingState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Plan is a subscription tier offered to merchants.
type Plan struct {
	ID           string
	Name         string
	PriceMonthly int64
	Currency     string
	MaxProducts  int
	Features     []string
	Active       bool
	UpdatedAt    time.Time
}

// UserRole identifies the access tier of a platform user.
type UserRole string

const (
	UserRoleMerchant   UserRole = "merchant"
	UserRoleSuperAdmin UserRole = "superadmin"
)

// UserProfile is the platform-side record of a Firebase account.
type UserProfile struct {
	ID          string
	Email       string
	DisplayName string
	Role        UserRole
	Disabled    bool
	StoreID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// Product is the persisted catalog entry including its variant groups.
type Product struct {
	ID              string
	StoreID         string
	Name            string
	Description     string
	DescriptionHTML string
	BasePrice       int64
	ImageURL        string
	Variants        []VariantGroup
	Active          bool
	Position        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Priced returns the pricing view of the product.
func (p Product) Priced() ProductWithVariants {
	return ProductWithVariants{
		ID:        p.ID,
		Name:      p.Name,
		BasePrice: p.BasePrice,
		ImageURL:  p.ImageURL,
		Variants:  p.Variants,
	}
}

// OrderStatus tracks merchant handling of a WhatsApp order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderCustomer holds buyer contact details collected at checkout.
type OrderCustomer struct {
	Name  string
	Phone string
	Note  string
}

// OrderLineOption is a snapshot of one chosen variant option at order time.
type OrderLineOption struct {
	GroupID       string
	GroupName     string
	OptionID      string
	OptionLabel   string
	PriceModifier int64
}

// OrderLine is a snapshot of a product and its options at order time.
type OrderLine struct {
	ProductID   string
	ProductName string
	ImageURL    string
	Quantity    int
	BasePrice   int64
	UnitPrice   int64
	LineTotal   int64
	Options     []OrderLineOption
}

// Order is a WhatsApp order recorded against a store.
type Order struct {
	ID          string
	StoreID     string
	Number      int64
	Customer    OrderCustomer
	Lines       []OrderLine
	Total       int64
	Currency    string
	Status      OrderStatus
	WhatsAppURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ImpersonationSession records a super admin acting as another user.
type ImpersonationSession struct {
	ID        string
	AdminUID  string
	TargetUID string
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
	EndedAt   *time.Time
	EndedBy   string
}

// Active reports whether the session can still be used at the given instant.
func (s ImpersonationSession) Active(now time.Time) bool {
	if s.EndedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// SignedURL is a time limited download link.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
