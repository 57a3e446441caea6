package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubStoreService struct {
	services.StoreService
	getPublicFn  func(context.Context, string) (services.Store, error)
	getMyFn      func(context.Context, string) (services.Store, error)
	createFn     func(context.Context, services.CreateStoreCommand) (services.Store, error)
	updateFn     func(context.Context, services.UpdateStoreCommand) (services.Store, error)
	listFn       func(context.Context, services.StoreListFilter) (domain.CursorPage[services.Store], error)
	suspendFn    func(context.Context, services.StoreModerationCommand) (services.Store, error)
	changePlanFn func(context.Context, services.ChangePlanCommand) (services.Store, error)
}

func (s *stubStoreService) GetPublicStore(ctx context.Context, slug string) (services.Store, error) {
	if s.getPublicFn != nil {
		return s.getPublicFn(ctx, slug)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubStoreService) GetMyStore(ctx context.Context, owner string) (services.Store, error) {
	if s.getMyFn != nil {
		return s.getMyFn(ctx, owner)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubStoreService) CreateStore(ctx context.Context, cmd services.CreateStoreCommand) (services.Store, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubStoreService) UpdateMyStore(ctx context.Context, cmd services.UpdateStoreCommand) (services.Store, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubStoreService) ListStores(ctx context.Context, filter services.StoreListFilter) (domain.CursorPage[services.Store], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Store]{}, nil
}

func (s *stubStoreService) SuspendStore(ctx context.Context, cmd services.StoreModerationCommand) (services.Store, error) {
	if s.suspendFn != nil {
		return s.suspendFn(ctx, cmd)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubStoreService) ChangePlan(ctx context.Context, cmd services.ChangePlanCommand) (services.Store, error) {
	if s.changePlanFn != nil {
		return s.changePlanFn(ctx, cmd)
	}
	return services.Store{}, errNotStubbed
}

type stubProductService struct {
	services.ProductService
	listPublicFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Product], error)
	quoteFn      func(context.Context, services.QuoteCommand) (services.PriceQuote, error)
	createFn     func(context.Context, services.CreateProductCommand) (services.Product, error)
	updateFn     func(context.Context, services.UpdateProductCommand) (services.Product, error)
	deleteFn     func(context.Context, services.DeleteProductCommand) error
}

func (s *stubProductService) ListPublicProducts(ctx context.Context, slug string, page services.Pagination) (domain.CursorPage[services.Product], error) {
	if s.listPublicFn != nil {
		return s.listPublicFn(ctx, slug, page)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubProductService) QuotePrice(ctx context.Context, cmd services.QuoteCommand) (services.PriceQuote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return services.PriceQuote{}, errNotStubbed
}

func (s *stubProductService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubProductService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubProductService) DeleteProduct(ctx context.Context, cmd services.DeleteProductCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errNotStubbed
}

type stubOrderService struct {
	services.OrderService
	placeFn  func(context.Context, services.PlaceOrderCommand) (services.Order, error)
	listFn   func(context.Context, string, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	statusFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	exportFn func(context.Context, services.ExportOrdersCommand) (services.OrderExport, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, owner string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, owner, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ExportOrders(ctx context.Context, cmd services.ExportOrdersCommand) (services.OrderExport, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, cmd)
	}
	return services.OrderExport{}, errNotStubbed
}

type stubUserService struct {
	services.UserService
	ensureFn   func(context.Context, services.EnsureProfileCommand) (services.UserProfile, error)
	getFn      func(context.Context, string) (services.UserProfile, error)
	disabledFn func(context.Context, services.SetUserDisabledCommand) (services.UserProfile, error)
}

func (s *stubUserService) EnsureProfile(ctx context.Context, cmd services.EnsureProfileCommand) (services.UserProfile, error) {
	if s.ensureFn != nil {
		return s.ensureFn(ctx, cmd)
	}
	return services.UserProfile{}, errNotStubbed
}

func (s *stubUserService) GetUser(ctx context.Context, uid string) (services.UserProfile, error) {
	if s.getFn != nil {
		return s.getFn(ctx, uid)
	}
	return services.UserProfile{}, errNotStubbed
}

func (s *stubUserService) SetUserDisabled(ctx context.Context, cmd services.SetUserDisabledCommand) (services.UserProfile, error) {
	if s.disabledFn != nil {
		return s.disabledFn(ctx, cmd)
	}
	return services.UserProfile{}, errNotStubbed
}

type stubBillingService struct {
	services.BillingService
	setFn     func(context.Context, services.SetBillingStateCommand) (services.Store, error)
	syncAllFn func(context.Context) (services.BillingSyncResult, error)
	webhookFn func(context.Context, []byte, string) error
}

func (s *stubBillingService) SetBillingState(ctx context.Context, cmd services.SetBillingStateCommand) (services.Store, error) {
	if s.setFn != nil {
		return s.setFn(ctx, cmd)
	}
	return services.Store{}, errNotStubbed
}

func (s *stubBillingService) SyncAll(ctx context.Context) (services.BillingSyncResult, error) {
	if s.syncAllFn != nil {
		return s.syncAllFn(ctx)
	}
	return services.BillingSyncResult{}, errNotStubbed
}

func (s *stubBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, payload, signature)
	}
	return errNotStubbed
}

type stubImpersonationService struct {
	services.ImpersonationService
	startFn  func(context.Context, services.StartImpersonationCommand) (services.ImpersonationGrant, error)
	expireFn func(context.Context) (int, error)
}

func (s *stubImpersonationService) StartImpersonation(ctx context.Context, cmd services.StartImpersonationCommand) (services.ImpersonationGrant, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.ImpersonationGrant{}, errNotStubbed
}

func (s *stubImpersonationService) ExpireStale(ctx context.Context) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx)
	}
	return 0, errNotStubbed
}

type stubSearchService struct {
	query  services.SearchQuery
	result services.SearchResult
	err    error
}

func (s *stubSearchService) Search(_ context.Context, q services.SearchQuery) (services.SearchResult, error) {
	s.query = q
	return s.result, s.err
}

// withIdentity mounts routes behind a middleware that injects the identity, bypassing token checks.
func withIdentity(identity *auth.Identity, register func(chi.Router)) http.Handler {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	})
	register(router)
	return router
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
