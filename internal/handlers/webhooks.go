package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives provider callbacks. Authenticity is checked by signature, not by token.
type WebhookHandlers struct {
	billing services.BillingService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(billing services.BillingService) *WebhookHandlers {
	return &WebhookHandlers{billing: billing}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		unavailable(ctx, w, "billing")
		return
	}
	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing Stripe-Signature header", http.StatusBadRequest))
		return
	}
	payload, err := httpx.ReadLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if err := h.billing.HandleWebhook(ctx, payload, signature); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
