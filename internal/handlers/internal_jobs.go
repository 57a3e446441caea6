package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/services"
)

const defaultCleanupLimit = 500

// IdempotencyCleaner removes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalHandlers serves scheduler-triggered maintenance jobs. Callers are authenticated by the
// OIDC middleware mounted on the /internal group.
type InternalHandlers struct {
	idempotency    IdempotencyCleaner
	billing        services.BillingService
	impersonations services.ImpersonationService
	clock          func() time.Time
}

// NewInternalHandlers constructs internal job handlers.
func NewInternalHandlers(idempotency IdempotencyCleaner, billing services.BillingService, impersonations services.ImpersonationService) *InternalHandlers {
	return &InternalHandlers{
		idempotency:    idempotency,
		billing:        billing,
		impersonations: impersonations,
		clock:          time.Now,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
	r.Post("/billing:sync", h.syncBilling)
	r.Post("/impersonations:expire", h.expireImpersonations)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.idempotency == nil {
		unavailable(ctx, w, "idempotency")
		return
	}
	limit := defaultCleanupLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = value
	}
	removed, err := h.idempotency.CleanupExpired(ctx, h.clock().UTC(), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *InternalHandlers) syncBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		unavailable(ctx, w, "billing")
		return
	}
	result, err := h.billing.SyncAll(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"synced": result.Synced, "failed": result.Failed})
}

func (h *InternalHandlers) expireImpersonations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.impersonations == nil {
		unavailable(ctx, w, "impersonation")
		return
	}
	expired, err := h.impersonations.ExpireStale(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"expired": expired})
}
