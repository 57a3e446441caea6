package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/httpx"
	"github.com/flowix-ar/storefront/internal/platform/requestctx"
	"github.com/flowix-ar/storefront/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

// StorefrontHandlers serves the anonymous buyer surface of a store.
type StorefrontHandlers struct {
	stores   services.StoreService
	products services.ProductService
	orders   services.OrderService

	checkoutMiddlewares []func(http.Handler) http.Handler
}

// StorefrontOption customises StorefrontHandlers.
type StorefrontOption func(*StorefrontHandlers)

// WithCheckoutMiddlewares wraps order placement, typically with the idempotency guard.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) StorefrontOption {
	return func(h *StorefrontHandlers) {
		h.checkoutMiddlewares = append(h.checkoutMiddlewares, mw...)
	}
}

// NewStorefrontHandlers constructs the public storefront handlers.
func NewStorefrontHandlers(stores services.StoreService, products services.ProductService, orders services.OrderService, opts ...StorefrontOption) *StorefrontHandlers {
	h := &StorefrontHandlers{stores: stores, products: products, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /stores endpoints.
func (h *StorefrontHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{slug}", h.getStore)
	r.Get("/{slug}/products", h.listProducts)
	r.Get("/{slug}/products/{productID}", h.getProduct)
	r.Post("/{slug}/products/{productID}:quote", h.quote)

	checkout := r.With()
	for _, mw := range h.checkoutMiddlewares {
		if mw != nil {
			checkout = checkout.With(mw)
		}
	}
	checkout.Post("/{slug}/orders", h.placeOrder)
}

func (h *StorefrontHandlers) getStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stores == nil {
		unavailable(ctx, w, "store")
		return
	}
	slug, ok := storeSlugParam(w, r)
	if !ok {
		return
	}
	store, err := h.stores.GetPublicStore(ctx, slug)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.SetStore(ctx, store.ID, "")
	writeJSONResponse(w, http.StatusOK, buildPublicStorePayload(store))
}

func (h *StorefrontHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	slug, ok := storeSlugParam(w, r)
	if !ok {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	result, err := h.products.ListPublicProducts(ctx, slug, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[productPayload]{
		Items:         mapItems(result.Items, buildPublicProductPayload),
		NextPageToken: result.NextPageToken,
	})
}

func (h *StorefrontHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	slug, ok := storeSlugParam(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	product, err := h.products.GetPublicProduct(ctx, slug, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPublicProductPayload(product))
}

type quoteRequest struct {
	Selection map[string][]string `json:"selection"`
}

func (h *StorefrontHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		unavailable(ctx, w, "product")
		return
	}
	slug, ok := storeSlugParam(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quote, err := h.products.QuotePrice(ctx, services.QuoteCommand{
		StoreSlug: slug,
		ProductID: productID,
		Selection: domain.VariantSelection(req.Selection),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildQuotePayload(quote))
}

type placeOrderLineRequest struct {
	ProductID string              `json:"productId"`
	Quantity  int                 `json:"quantity"`
	Selection map[string][]string `json:"selection"`
}

type placeOrderRequest struct {
	Customer orderCustomerPayload    `json:"customer"`
	Lines    []placeOrderLineRequest `json:"lines"`
}

type placeOrderResponse struct {
	Order       orderPayload `json:"order"`
	WhatsAppURL string       `json:"whatsappUrl"`
}

func (h *StorefrontHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		unavailable(ctx, w, "order")
		return
	}
	slug, ok := storeSlugParam(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	cmd := services.PlaceOrderCommand{
		StoreSlug: slug,
		Customer: domain.OrderCustomer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Phone: strings.TrimSpace(req.Customer.Phone),
			Note:  strings.TrimSpace(req.Customer.Note),
		},
		Lines: make([]services.PlaceOrderLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.PlaceOrderLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			Selection: domain.VariantSelection(line.Selection),
		})
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.SetStore(ctx, order.StoreID, "")
	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:       buildOrderPayload(order),
		WhatsAppURL: order.WhatsAppURL,
	})
}

// buildPublicProductPayload hides merchant-only fields from buyers.
func buildPublicProductPayload(product services.Product) productPayload {
	payload := buildProductPayload(product)
	payload.StoreID = ""
	payload.Description = ""
	payload.CreatedAt = ""
	payload.UpdatedAt = ""
	return payload
}
