package services

import (
	"context"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Store                = domain.Store
	StoreStatus          = domain.StoreStatus
	BillingState         = domain.BillingState
	BillingStatus        = domain.BillingStatus
	Plan                 = domain.Plan
	UserProfile          = domain.UserProfile
	UserRole             = domain.UserRole
	Product              = domain.Product
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	OrderLine            = domain.OrderLine
	OrderLineOption      = domain.OrderLineOption
	OrderCustomer        = domain.OrderCustomer
	ImpersonationSession = domain.ImpersonationSession
	AuditLogEntry        = domain.AuditLogEntry
	SystemHealthReport   = domain.SystemHealthReport
	SignedURL            = domain.SignedURL
	ProductWithVariants  = domain.ProductWithVariants
	VariantSelection     = domain.VariantSelection
	PriceResolution      = domain.PriceResolution
	ResolvedOption       = domain.ResolvedOption
	VariantKind          = domain.VariantKind
	VariantGroup         = domain.VariantGroup
	VariantOption        = domain.VariantOption
)

// VariantPricer prices a buyer's variant selection. Both operations are pure.
type VariantPricer interface {
	Resolve(product ProductWithVariants, selection VariantSelection) PriceResolution
	ToggleOption(selection VariantSelection, groupID, optionID string, kind VariantKind) VariantSelection
}

// ActorContext identifies who triggered a mutation and from where. ActorID is the super admin
// when a merchant session is impersonated.
type ActorContext struct {
	ActorID   string
	ActorType string
	IPAddress string
	UserAgent string
	RequestID string
}

// StoreService manages merchant storefronts for both merchants and super admins.
type StoreService interface {
	CreateStore(ctx context.Context, cmd CreateStoreCommand) (Store, error)
	GetMyStore(ctx context.Context, ownerUID string) (Store, error)
	UpdateMyStore(ctx context.Context, cmd UpdateStoreCommand) (Store, error)
	GetPublicStore(ctx context.Context, slug string) (Store, error)

	ListStores(ctx context.Context, filter StoreListFilter) (domain.CursorPage[Store], error)
	GetStore(ctx context.Context, storeID string) (Store, error)
	SuspendStore(ctx context.Context, cmd StoreModerationCommand) (Store, error)
	ReactivateStore(ctx context.Context, cmd StoreModerationCommand) (Store, error)
	ChangePlan(ctx context.Context, cmd ChangePlanCommand) (Store, error)
}

// CreateStoreCommand opens a new store for OwnerUID.
type CreateStoreCommand struct {
	OwnerUID       string
	Slug           string
	Name           string
	Description    string
	WhatsAppNumber string
	Currency       string
	Locale         string
	LogoURL        string
	Actor          ActorContext
}

// UpdateStoreCommand patches the caller's store. Nil fields are left unchanged.
type UpdateStoreCommand struct {
	OwnerUID       string
	Name           *string
	Description    *string
	WhatsAppNumber *string
	Locale         *string
	LogoURL        *string
	Actor          ActorContext
}

// StoreListFilter narrows admin store listings. Query matches the beginning of the store name.
type StoreListFilter struct {
	Status     StoreStatus
	PlanID     string
	Query      string
	Pagination Pagination
}

// StoreModerationCommand suspends or reactivates a store.
type StoreModerationCommand struct {
	StoreID string
	Reason  string
	Actor   ActorContext
}

// ChangePlanCommand moves a store to another plan.
type ChangePlanCommand struct {
	StoreID string
	PlanID  string
	Reason  string
	Actor   ActorContext
}

// ProductService manages a store's catalogue and exposes it to buyers.
type ProductService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	GetProduct(ctx context.Context, ownerUID, productID string) (Product, error)
	ListProducts(ctx context.Context, ownerUID string, page Pagination) (domain.CursorPage[Product], error)

	ListPublicProducts(ctx context.Context, slug string, page Pagination) (domain.CursorPage[Product], error)
	GetPublicProduct(ctx context.Context, slug, productID string) (Product, error)
	QuotePrice(ctx context.Context, cmd QuoteCommand) (PriceQuote, error)
}

// CreateProductCommand adds a product to the owner's store. Active defaults to true.
type CreateProductCommand struct {
	OwnerUID    string
	Name        string
	Description string
	BasePrice   int64
	ImageURL    string
	Variants    []VariantGroup
	Active      *bool
	Position    int
	Actor       ActorContext
}

// UpdateProductCommand patches a product. Nil fields are left unchanged; a non-nil Variants
// replaces every group.
type UpdateProductCommand struct {
	OwnerUID    string
	ProductID   string
	Name        *string
	Description *string
	BasePrice   *int64
	ImageURL    *string
	Variants    *[]VariantGroup
	Active      *bool
	Position    *int
	Actor       ActorContext
}

// DeleteProductCommand removes a product from the owner's store.
type DeleteProductCommand struct {
	OwnerUID  string
	ProductID string
	Actor     ActorContext
}

// QuoteCommand prices a selection for a public product.
type QuoteCommand struct {
	StoreSlug string
	ProductID string
	Selection VariantSelection
}

// PriceQuote is the priced selection returned to buyers.
type PriceQuote struct {
	Product    Product
	Currency   string
	Resolution PriceResolution
}

// OrderService records WhatsApp orders and lets merchants work through them.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	ListOrders(ctx context.Context, ownerUID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, ownerUID, orderID string) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (OrderExport, error)
}

// PlaceOrderCommand is the anonymous checkout submitted from a storefront.
type PlaceOrderCommand struct {
	StoreSlug string
	Customer  OrderCustomer
	Lines     []PlaceOrderLine
}

// PlaceOrderLine is one cart line with the buyer's variant selection.
type PlaceOrderLine struct {
	ProductID string
	Quantity  int
	Selection VariantSelection
}

// OrderListFilter narrows merchant order listings.
type OrderListFilter struct {
	Status     OrderStatus
	Pagination Pagination
}

// UpdateOrderStatusCommand moves an order through its lifecycle.
type UpdateOrderStatusCommand struct {
	OwnerUID string
	OrderID  string
	Status   OrderStatus
	Actor    ActorContext
}

// ExportOrdersCommand exports the owner's orders created in [Since, Until).
type ExportOrdersCommand struct {
	OwnerUID string
	Since    *time.Time
	Until    *time.Time
	Actor    ActorContext
}

// OrderExport points at an uploaded workbook.
type OrderExport struct {
	Object   string
	Count    int
	Download SignedURL
}

// OrderPlacedEvent is published once an order has been stored.
type OrderPlacedEvent struct {
	EventID    string    `json:"eventId"`
	StoreID    string    `json:"storeId"`
	StoreSlug  string    `json:"storeSlug"`
	OrderID    string    `json:"orderId"`
	Number     int64     `json:"number"`
	Total      int64     `json:"total"`
	Currency   string    `json:"currency"`
	ItemCount  int       `json:"itemCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) (string, error)
}

// ExportStorage persists generated exports and signs download links for them.
type ExportStorage interface {
	Put(ctx context.Context, object, contentType string, data []byte) error
	SignedDownloadURL(ctx context.Context, object string) (SignedURL, error)
}

// BillingService keeps each store's commercial standing in sync with Stripe or manual overrides.
type BillingService interface {
	SetBillingState(ctx context.Context, cmd SetBillingStateCommand) (Store, error)
	SyncStore(ctx context.Context, storeID string, actor ActorContext) (Store, error)
	SyncAll(ctx context.Context) (BillingSyncResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// SetBillingStateCommand overrides billing manually.
type SetBillingStateCommand struct {
	StoreID   string
	Status    BillingStatus
	PaidUntil *time.Time
	Note      string
	Actor     ActorContext
}

// BillingSyncResult summarises a bulk sync.
type BillingSyncResult struct {
	Synced int
	Failed int
}

// Subscription is the provider-neutral view of a billing subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

// SubscriptionEvent is a verified webhook notification. Handled is false for event types the
// platform does not act on.
type SubscriptionEvent struct {
	ID           string
	Type         string
	Handled      bool
	Subscription Subscription
}

// BillingProvider talks to the payment processor.
type BillingProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	ParseWebhook(payload []byte, signature string) (SubscriptionEvent, error)
}

// PlanService manages the subscription plan catalogue.
type PlanService interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	GetPlan(ctx context.Context, planID string) (Plan, error)
	UpsertPlan(ctx context.Context, cmd UpsertPlanCommand) (Plan, error)
	SeedPlans(ctx context.Context, plans []Plan) (int, error)
}

// UpsertPlanCommand creates or replaces a plan.
type UpsertPlanCommand struct {
	Plan  Plan
	Actor ActorContext
}

// UserService manages platform user profiles and their Firebase accounts.
type UserService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (UserProfile, error)
	ListUsers(ctx context.Context, filter UserListFilter) (domain.CursorPage[UserProfile], error)
	GetUser(ctx context.Context, uid string) (UserProfile, error)
	SetUserDisabled(ctx context.Context, cmd SetUserDisabledCommand) (UserProfile, error)
	SetUserRole(ctx context.Context, cmd SetUserRoleCommand) (UserProfile, error)
}

// EnsureProfileCommand records a sign-in, creating the profile on first use.
type EnsureProfileCommand struct {
	UID         string
	Email       string
	DisplayName string
	Role        UserRole
}

// UserListFilter narrows admin user listings. Query matches the beginning of the email or
// display name.
type UserListFilter struct {
	Role       UserRole
	Query      string
	Pagination Pagination
}

// SetUserDisabledCommand enables or disables an account.
type SetUserDisabledCommand struct {
	UID      string
	Disabled bool
	Reason   string
	Actor    ActorContext
}

// SetUserRoleCommand changes the role custom claim.
type SetUserRoleCommand struct {
	UID   string
	Role  UserRole
	Actor ActorContext
}

// UserAuthAdmin manages accounts in the identity provider.
type UserAuthAdmin interface {
	SetDisabled(ctx context.Context, uid string, disabled bool) error
	SetRole(ctx context.Context, uid string, role string) error
	CustomToken(ctx context.Context, uid string, claims map[string]any) (string, error)
}

// ImpersonationService lets super admins act as a merchant for support.
type ImpersonationService interface {
	StartImpersonation(ctx context.Context, cmd StartImpersonationCommand) (ImpersonationGrant, error)
	EndImpersonation(ctx context.Context, cmd EndImpersonationCommand) (ImpersonationSession, error)
	ListImpersonations(ctx context.Context, filter ImpersonationListFilter) (domain.CursorPage[ImpersonationSession], error)
	CheckImpersonation(ctx context.Context, sessionID, adminUID, targetUID string) error
	ExpireStale(ctx context.Context) (int, error)
}

// StartImpersonationCommand opens a session as TargetUID.
type StartImpersonationCommand struct {
	TargetUID string
	Reason    string
	Actor     ActorContext
}

// ImpersonationGrant carries the session and the custom token the admin signs in with.
type ImpersonationGrant struct {
	Session     ImpersonationSession
	CustomToken string
}

// EndImpersonationCommand closes a session.
type EndImpersonationCommand struct {
	SessionID string
	Actor     ActorContext
}

// ImpersonationListFilter narrows session listings.
type ImpersonationListFilter struct {
	AdminUID   string
	TargetUID  string
	ActiveOnly bool
	Pagination Pagination
}

// AuditLogService records and lists the admin audit trail.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogRecord is the raw input to the audit trail. Values under sensitive keys are stored as
// salted hashes.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	Reason                string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures a before/after pair.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination Pagination
}

// SearchService powers the admin quick search.
type SearchService interface {
	Search(ctx context.Context, query SearchQuery) (SearchResult, error)
}

// SearchQuery is a free text prefix query.
type SearchQuery struct {
	Query string
	Limit int
}

// SearchResult groups matches by kind.
type SearchResult struct {
	Stores []Store
	Users  []UserProfile
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
