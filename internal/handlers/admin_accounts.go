package handlers

import (
	"net/http"
	"strconv"
	"strings"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/services"
)

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Users == nil {
		unavailable(ctx, w, "user")
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	result, err := h.svc.Users.ListUsers(ctx, services.UserListFilter{
		Role:       domain.UserRole(strings.TrimSpace(query.Get("role"))),
		Query:      strings.TrimSpace(query.Get("q")),
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[userPayload]{
		Items:         mapItems(result.Items, buildUserPayload),
		NextPageToken: result.NextPageToken,
	})
}

func (h *AdminHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Users == nil {
		unavailable(ctx, w, "user")
		return
	}
	uid, ok := pathParam(w, r, "uid")
	if !ok {
		return
	}
	user, err := h.svc.Users.GetUser(ctx, uid)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *AdminHandlers) disableUser(w http.ResponseWriter, r *http.Request) {
	h.setUserDisabled(w, r, true)
}

func (h *AdminHandlers) enableUser(w http.ResponseWriter, r *http.Request) {
	h.setUserDisabled(w, r, false)
}

func (h *AdminHandlers) setUserDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	ctx := r.Context()
	if h.svc.Users == nil {
		unavailable(ctx, w, "user")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	uid, ok := pathParam(w, r, "uid")
	if !ok {
		return
	}
	var req moderationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.svc.Users.SetUserDisabled(ctx, services.SetUserDisabledCommand{
		UID:      uid,
		Disabled: disabled,
		Reason:   req.Reason,
		Actor:    actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandlers) setUserRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Users == nil {
		unavailable(ctx, w, "user")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	uid, ok := pathParam(w, r, "uid")
	if !ok {
		return
	}
	var req setRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.svc.Users.SetUserRole(ctx, services.SetUserRoleCommand{
		UID:   uid,
		Role:  domain.UserRole(req.Role),
		Actor: actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *AdminHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Plans == nil {
		unavailable(ctx, w, "plan")
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	plans, err := h.svc.Plans.ListPlans(ctx, activeOnly)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[planPayload]{Items: mapItems(plans, buildPlanPayload)})
}

func (h *AdminHandlers) getPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Plans == nil {
		unavailable(ctx, w, "plan")
		return
	}
	planID, ok := pathParam(w, r, "planID")
	if !ok {
		return
	}
	plan, err := h.svc.Plans.GetPlan(ctx, planID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPlanPayload(plan))
}

type upsertPlanRequest struct {
	Name         string   `json:"name"`
	PriceMonthly int64    `json:"priceMonthly"`
	Currency     string   `json:"currency"`
	MaxProducts  int      `json:"maxProducts"`
	Features     []string `json:"features"`
	Active       bool     `json:"active"`
}

func (h *AdminHandlers) upsertPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Plans == nil {
		unavailable(ctx, w, "plan")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	planID, ok := pathParam(w, r, "planID")
	if !ok {
		return
	}
	var req upsertPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	plan, err := h.svc.Plans.UpsertPlan(ctx, services.UpsertPlanCommand{
		Plan: domain.Plan{
			ID:           planID,
			Name:         req.Name,
			PriceMonthly: req.PriceMonthly,
			Currency:     req.Currency,
			MaxProducts:  req.MaxProducts,
			Features:     req.Features,
			Active:       req.Active,
		},
		Actor: actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPlanPayload(plan))
}

func (h *AdminHandlers) listImpersonations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Impersonations == nil {
		unavailable(ctx, w, "impersonation")
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(query.Get("active"))
	result, err := h.svc.Impersonations.ListImpersonations(ctx, services.ImpersonationListFilter{
		AdminUID:   strings.TrimSpace(query.Get("admin")),
		TargetUID:  strings.TrimSpace(query.Get("target")),
		ActiveOnly: activeOnly,
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[impersonationPayload]{
		Items:         mapItems(result.Items, buildImpersonationPayload),
		NextPageToken: result.NextPageToken,
	})
}

type startImpersonationRequest struct {
	TargetUID string `json:"targetUid"`
	Reason    string `json:"reason"`
}

type startImpersonationResponse struct {
	Session     impersonationPayload `json:"session"`
	CustomToken string               `json:"customToken"`
}

func (h *AdminHandlers) startImpersonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Impersonations == nil {
		unavailable(ctx, w, "impersonation")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req startImpersonationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	grant, err := h.svc.Impersonations.StartImpersonation(ctx, services.StartImpersonationCommand{
		TargetUID: req.TargetUID,
		Reason:    req.Reason,
		Actor:     actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusCreated, startImpersonationResponse{
		Session:     buildImpersonationPayload(grant.Session),
		CustomToken: grant.CustomToken,
	})
}

func (h *AdminHandlers) endImpersonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Impersonations == nil {
		unavailable(ctx, w, "impersonation")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := h.svc.Impersonations.EndImpersonation(ctx, services.EndImpersonationCommand{
		SessionID: sessionID,
		Actor:     actorFromRequest(r, identity, true),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildImpersonationPayload(session))
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Audit == nil {
		unavailable(ctx, w, "audit")
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	result, err := h.svc.Audit.List(ctx, services.AuditLogFilter{
		TargetRef:  strings.TrimSpace(query.Get("targetRef")),
		Actor:      strings.TrimSpace(query.Get("actor")),
		Action:     strings.TrimSpace(query.Get("action")),
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[auditLogPayload]{
		Items:         mapItems(result.Items, buildAuditLogPayload),
		NextPageToken: result.NextPageToken,
	})
}

type searchResponse struct {
	Stores []storePayload `json:"stores"`
	Users  []userPayload  `json:"users"`
}

func (h *AdminHandlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Search == nil {
		unavailable(ctx, w, "search")
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = value
	}
	result, err := h.svc.Search.Search(ctx, services.SearchQuery{Query: query.Get("q"), Limit: limit})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, searchResponse{
		Stores: mapItems(result.Stores, buildStorePayload),
		Users:  mapItems(result.Users, buildUserPayload),
	})
}
