package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/platform/requestctx"
	"github.com/flowix-ar/storefront/internal/services"
)

// MeHandlers exposes the merchant back office for the caller's own store.
type MeHandlers struct {
	authn    *auth.Authenticator
	users    services.UserService
	stores   services.StoreService
	products services.ProductService
	orders   services.OrderService

	middlewares []func(http.Handler) http.Handler
}

// MeOption customises MeHandlers.
type MeOption func(*MeHandlers)

// WithMeMiddlewares adds middlewares that run after authentication, such as the idempotency guard.
func WithMeMiddlewares(mw ...func(http.Handler) http.Handler) MeOption {
	return func(h *MeHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewMeHandlers constructs merchant handlers.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService, stores services.StoreService, products services.ProductService, orders services.OrderService, opts ...MeOption) *MeHandlers {
	h := &MeHandlers{
		authn:    authn,
		users:    users,
		stores:   stores,
		products: products,
		orders:   orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleMerchant, auth.RoleSuperAdmin))
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/", h.getProfile)

	r.Get("/store", h.getStore)
	r.Post("/store", h.createStore)
	r.Patch("/store", h.updateStore)

	r.Get("/store/products", h.listProducts)
	r.Post("/store/products", h.createProduct)
	r.Get("/store/products/{productID}", h.getProduct)
	r.Patch("/store/products/{productID}", h.updateProduct)
	r.Delete("/store/products/{productID}", h.deleteProduct)

	r.Get("/store/orders", h.listOrders)
	r.Post("/store/orders:export", h.exportOrders)
	r.Get("/store/orders/{orderID}", h.getOrder)
	r.Post("/store/orders/{orderID}:status", h.updateOrderStatus)
}

// getProfile records the sign-in and returns the caller's profile. Impersonated sessions read the
// profile without touching the last login.
func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		unavailable(ctx, w, "user")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var (
		profile services.UserProfile
		err     error
	)
	if identity.IsImpersonated() {
		profile, err = h.users.GetUser(ctx, identity.UID)
	} else {
		role := domain.UserRoleMerchant
		if identity.HasRole(auth.RoleSuperAdmin) {
			role = domain.UserRoleSuperAdmin
		}
		profile, err = h.users.EnsureProfile(ctx, services.EnsureProfileCommand{
			UID:         identity.UID,
			Email:       identity.Email,
			DisplayName: displayName(identity),
			Role:        role,
		})
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, struct {
		Profile      userPayload `json:"profile"`
		Impersonated bool        `json:"impersonated"`
	}{
		Profile:      buildUserPayload(profile),
		Impersonated: identity.IsImpersonated(),
	})
}

func displayName(identity *auth.Identity) string {
	token := identity.Token()
	if token == nil {
		return ""
	}
	if name, ok := token.Claims["name"].(string); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

func (h *MeHandlers) getStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	store, err := h.stores.GetMyStore(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.SetStore(ctx, store.ID, store.Slug)
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

type createStoreRequest struct {
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	WhatsAppNumber string `json:"whatsappNumber"`
	Currency       string `json:"currency"`
	Locale         string `json:"locale"`
	LogoURL        string `json:"logoUrl"`
}

func (h *MeHandlers) createStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createStoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := h.stores.CreateStore(ctx, services.CreateStoreCommand{
		OwnerUID:       identity.UID,
		Slug:           req.Slug,
		Name:           req.Name,
		Description:    req.Description,
		WhatsAppNumber: req.WhatsAppNumber,
		Currency:       req.Currency,
		Locale:         req.Locale,
		LogoURL:        req.LogoURL,
		Actor:          actorFromRequest(r, identity, false),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildStorePayload(store))
}

type updateStoreRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	WhatsAppNumber *string `json:"whatsappNumber"`
	Locale         *string `json:"locale"`
	LogoURL        *string `json:"logoUrl"`
}

func (h *MeHandlers) updateStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req updateStoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := h.stores.UpdateMyStore(ctx, services.UpdateStoreCommand{
		OwnerUID:       identity.UID,
		Name:           req.Name,
		Description:    req.Description,
		WhatsAppNumber: req.WhatsAppNumber,
		Locale:         req.Locale,
		LogoURL:        req.LogoURL,
		Actor:          actorFromRequest(r, identity, false),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

func (h *MeHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	result, err := h.products.ListProducts(ctx, identity.UID, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[productPayload]{
		Items:         mapItems(result.Items, buildProductPayload),
		NextPageToken: result.NextPageToken,
	})
}

type createProductRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	BasePrice   int64                 `json:"basePrice"`
	ImageURL    string                `json:"imageUrl"`
	Variants    []variantGroupPayload `json:"variants"`
	Active      *bool                 `json:"active"`
	Position    int                   `json:"position"`
}

func (h *MeHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := h.products.CreateProduct(ctx, services.CreateProductCommand{
		OwnerUID:    identity.UID,
		Name:        req.Name,
		Description: req.Description,
		BasePrice:   req.BasePrice,
		ImageURL:    req.ImageURL,
		Variants:    variantGroupsFromPayload(req.Variants),
		Active:      req.Active,
		Position:    req.Position,
		Actor:       actorFromRequest(r, identity, false),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *MeHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	product, err := h.products.GetProduct(ctx, identity.UID, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

type updateProductRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	BasePrice   *int64                 `json:"basePrice"`
	ImageURL    *string                `json:"imageUrl"`
	Variants    *[]variantGroupPayload `json:"variants"`
	Active      *bool                  `json:"active"`
	Position    *int                   `json:"position"`
}

func (h *MeHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	var req updateProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd := services.UpdateProductCommand{
		OwnerUID:    identity.UID,
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		BasePrice:   req.BasePrice,
		ImageURL:    req.ImageURL,
		Active:      req.Active,
		Position:    req.Position,
		Actor:       actorFromRequest(r, identity, false),
	}
	if req.Variants != nil {
		groups := variantGroupsFromPayload(*req.Variants)
		cmd.Variants = &groups
	}
	product, err := h.products.UpdateProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *MeHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	if err := h.products.DeleteProduct(ctx, services.DeleteProductCommand{
		OwnerUID:  identity.UID,
		ProductID: productID,
		Actor:     actorFromRequest(r, identity, false),
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	filter := services.OrderListFilter{Pagination: page}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
			return
		}
		filter.Status = status
	}
	result, err := h.orders.ListOrders(ctx, identity.UID, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[orderPayload]{
		Items:         mapItems(result.Items, buildOrderPayload),
		NextPageToken: result.NextPageToken,
	})
}

func (h *MeHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *MeHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}
	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OwnerUID: identity.UID,
		OrderID:  orderID,
		Status:   status,
		Actor:    actorFromRequest(r, identity, false),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type exportOrdersRequest struct {
	Since *string `json:"since"`
	Until *string `json:"until"`
}

type exportOrdersResponse struct {
	Object      string `json:"object"`
	Count       int    `json:"count"`
	DownloadURL string `json:"downloadUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

func (h *MeHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req exportOrdersRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	since, err := optionalTime(req.Since)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
		return
	}
	until, err := optionalTime(req.Until)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
		return
	}
	export, err := h.orders.ExportOrders(ctx, services.ExportOrdersCommand{
		OwnerUID: identity.UID,
		Since:    since,
		Until:    until,
		Actor:    actorFromRequest(r, identity, false),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, exportOrdersResponse{
		Object:      export.Object,
		Count:       export.Count,
		DownloadURL: export.Download.URL,
		ExpiresAt:   formatTime(export.Download.ExpiresAt),
	})
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := services.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return status, true
	}
	return "", false
}
