package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/services"
)

// AdminServices bundles the services backing the super admin console.
type AdminServices struct {
	Stores         services.StoreService
	Billing        services.BillingService
	Users          services.UserService
	Plans          services.PlanService
	Impersonations services.ImpersonationService
	Audit          services.AuditLogService
	Search         services.SearchService
}

// AdminHandlers exposes super admin endpoints.
type AdminHandlers struct {
	authn *auth.Authenticator
	svc   AdminServices

	middlewares []func(http.Handler) http.Handler
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithAdminMiddlewares adds middlewares that run after authentication.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) AdminOption {
	return func(h *AdminHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, svc AdminServices, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{authn: authn, svc: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSuperAdmin))
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/stores", h.listStores)
	r.Get("/stores/{storeID}", h.getStore)
	r.Post("/stores/{storeID}:suspend", h.suspendStore)
	r.Post("/stores/{storeID}:reactivate", h.reactivateStore)
	r.Post("/stores/{storeID}:change-plan", h.changePlan)
	r.Put("/stores/{storeID}/billing", h.setBilling)
	r.Post("/stores/{storeID}/billing:sync", h.syncBilling)

	r.Get("/users", h.listUsers)
	r.Get("/users/{uid}", h.getUser)
	r.Post("/users/{uid}:disable", h.disableUser)
	r.Post("/users/{uid}:enable", h.enableUser)
	r.Put("/users/{uid}/role", h.setUserRole)

	r.Get("/plans", h.listPlans)
	r.Get("/plans/{planID}", h.getPlan)
	r.Put("/plans/{planID}", h.upsertPlan)

	r.Get("/impersonations", h.listImpersonations)
	r.Post("/impersonations", h.startImpersonation)
	r.Post("/impersonations/{sessionID}:end", h.endImpersonation)

	r.Get("/audit-logs", h.listAuditLogs)
	r.Get("/search", h.search)
}

func (h *AdminHandlers) listStores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := services.StoreListFilter{
		PlanID:     strings.TrimSpace(query.Get("plan")),
		Query:      strings.TrimSpace(query.Get("q")),
		Pagination: page,
	}
	switch status := domain.StoreStatus(strings.ToLower(strings.TrimSpace(query.Get("status")))); status {
	case "":
	case domain.StoreStatusActive, domain.StoreStatusSuspended:
		filter.Status = status
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be active or suspended", http.StatusBadRequest))
		return
	}

	result, err := h.svc.Stores.ListStores(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[storePayload]{
		Items:         mapItems(result.Items, buildStorePayload),
		NextPageToken: result.NextPageToken,
	})
}

func (h *AdminHandlers) getStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	storeID, ok := pathParam(w, r, "storeID")
	if !ok {
		return
	}
	store, err := h.svc.Stores.GetStore(ctx, storeID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

type moderationRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandlers) suspendStore(w http.ResponseWriter, r *http.Request) {
	if h.svc.Stores == nil {
		unavailable(r.Context(), w, "store")
		return
	}
	h.moderateStore(w, r, h.svc.Stores.SuspendStore)
}

func (h *AdminHandlers) reactivateStore(w http.ResponseWriter, r *http.Request) {
	if h.svc.Stores == nil {
		unavailable(r.Context(), w, "store")
		return
	}
	h.moderateStore(w, r, h.svc.Stores.ReactivateStore)
}

func (h *AdminHandlers) moderateStore(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cmd services.StoreModerationCommand) (services.Store, error)) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	storeID, ok := pathParam(w, r, "storeID")
	if !ok {
		return
	}
	var req moderationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := apply(ctx, services.StoreModerationCommand{
		StoreID: storeID,
		Reason:  req.Reason,
		Actor:   actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

type changePlanRequest struct {
	PlanID string `json:"planId"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) changePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	storeID, ok := pathParam(w, r, "storeID")
	if !ok {
		return
	}
	var req changePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := h.svc.Stores.ChangePlan(ctx, services.ChangePlanCommand{
		StoreID: storeID,
		PlanID:  req.PlanID,
		Reason:  req.Reason,
		Actor:   actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

type setBillingRequest struct {
	Status    string  `json:"status"`
	PaidUntil *string `json:"paidUntil"`
	Note      string  `json:"note"`
}

func (h *AdminHandlers) setBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Billing == nil {
		unavailable(ctx, w, "billing")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	storeID, ok := pathParam(w, r, "storeID")
	if !ok {
		return
	}
	var req setBillingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	paidUntil, err := optionalTime(req.PaidUntil)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paidUntil must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
		return
	}
	store, err := h.svc.Billing.SetBillingState(ctx, services.SetBillingStateCommand{
		StoreID:   storeID,
		Status:    domain.BillingStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		PaidUntil: paidUntil,
		Note:      req.Note,
		Actor:     actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}

func (h *AdminHandlers) syncBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Billing == nil {
		unavailable(ctx, w, "billing")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	storeID, ok := pathParam(w, r, "storeID")
	if !ok {
		return
	}
	store, err := h.svc.Billing.SyncStore(ctx, storeID, actorFromRequest(r, identity, true))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStorePayload(store))
}
