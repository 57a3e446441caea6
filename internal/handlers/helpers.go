package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/platform/pagination"
	"github.com/flowix-ar/storefront/internal/platform/ratelimit"
	"github.com/flowix-ar/storefront/internal/platform/requestctx"
	"github.com/flowix-ar/storefront/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 64 * 1024
	actorTypeUser   = "user"
	actorTypeStaff  = "staff"
)

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorFromRequest records who is acting. Admin routes and impersonated merchant sessions are staff.
func actorFromRequest(r *http.Request, identity *auth.Identity, staff bool) services.ActorContext {
	actorType := actorTypeUser
	if staff || identity.IsImpersonated() {
		actorType = actorTypeStaff
	}
	return services.ActorContext{
		ActorID:   identity.ActorID(),
		ActorType: actorType,
		IPAddress: ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetReqID(r.Context()),
	}
}

func pageFromRequest(w http.ResponseWriter, r *http.Request) (services.Pagination, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultPageSize, MaxPageSize: maxPageSize})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", name+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

// storeSlugParam reads the {slug} path parameter and tags the request with it.
func storeSlugParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	slug, ok := pathParam(w, r, "slug")
	if ok {
		requestctx.SetStore(r.Context(), "", slug)
	}
	return slug, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, maxBodySize, dst); err != nil {
		httpx.WriteBodyError(w, r, err)
		return false
	}
	return true
}

func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func optionalTime(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	ts, err := parseTimeParam(*value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := formatTime(*t)
	return &value
}

func unavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

type errorMapping struct {
	target error
	code   string
	status int
}

var serviceErrorMappings = []errorMapping{
	{services.ErrVariantInvalid, "invalid_variants", http.StatusUnprocessableEntity},
	{services.ErrProductPlanLimit, "plan_limit_reached", http.StatusConflict},
	{services.ErrStoreSlugTaken, "slug_taken", http.StatusConflict},
	{services.ErrStoreAlreadyExists, "store_exists", http.StatusConflict},
	{services.ErrStoreInvalidState, "invalid_store_state", http.StatusConflict},
	{services.ErrOrderInvalidState, "invalid_order_status", http.StatusConflict},
	{services.ErrOrderProductUnavailable, "product_unavailable", http.StatusUnprocessableEntity},
	{services.ErrOrderExportEmpty, "export_empty", http.StatusNotFound},
	{services.ErrStoreNotFound, "store_not_found", http.StatusNotFound},
	{services.ErrStorePlanNotFound, "plan_not_found", http.StatusBadRequest},
	{services.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrPlanNotFound, "plan_not_found", http.StatusNotFound},
	{services.ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{services.ErrImpersonationNotFound, "impersonation_not_found", http.StatusNotFound},
	{services.ErrImpersonationForbidden, "impersonation_forbidden", http.StatusForbidden},
	{services.ErrImpersonationInactive, "impersonation_inactive", http.StatusConflict},
	{services.ErrUserSelfModification, "self_modification", http.StatusForbidden},
	{services.ErrBillingNotLinked, "billing_not_linked", http.StatusConflict},
	{services.ErrBillingInvalidWebhook, "invalid_webhook", http.StatusBadRequest},
	{services.ErrBillingProviderUnavailable, "billing_unavailable", http.StatusServiceUnavailable},
	{services.ErrUserAuthUnavailable, "auth_unavailable", http.StatusServiceUnavailable},
	{services.ErrStoreInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrProductInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPlanInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrUserInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrImpersonationInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrBillingInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrSearchInvalidInput, "invalid_request", http.StatusBadRequest},
	{pagination.ErrInvalidPageToken, "invalid_pagination", http.StatusBadRequest},
}

// writeServiceError maps service sentinels onto the error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var incomplete *services.IncompleteSelectionError
	if errors.As(err, &incomplete) {
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_selection", "required variant groups are not selected", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{
				"productId":     incomplete.ProductID,
				"missingGroups": incomplete.MissingGroups,
			}))
		return
	}

	var variantErr *services.VariantValidationError
	if errors.As(err, &variantErr) {
		details := map[string]any{"groupId": variantErr.GroupID}
		if variantErr.OptionID != "" {
			details["optionId"] = variantErr.OptionID
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_variants", variantErr.Error(), http.StatusUnprocessableEntity).WithDetails(details))
		return
	}

	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.target) {
			httpx.WriteError(ctx, w, httpx.NewError(m.code, err.Error(), m.status))
			return
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}

	var repoErr interface{ IsUnavailable() bool }
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}
