package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/whatsapp"
)

var orderTestNow = time.Date(2025, 4, 2, 15, 30, 0, 0, time.UTC)

type stubOrderPublisher struct {
	events []OrderPlacedEvent
	err    error
}

func (s *stubOrderPublisher) PublishOrderPlaced(_ context.Context, event OrderPlacedEvent) (string, error) {
	s.events = append(s.events, event)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

type stubExportStorage struct {
	object      string
	contentType string
	data        []byte
	putErr      error
}

func (s *stubExportStorage) Put(_ context.Context, object, contentType string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.object = object
	s.contentType = contentType
	s.data = data
	return nil
}

func (s *stubExportStorage) SignedDownloadURL(_ context.Context, object string) (SignedURL, error) {
	return SignedURL{URL: "https://storage.example/" + object, Method: "GET", ExpiresAt: orderTestNow.Add(15 * time.Minute)}, nil
}

type orderFixture struct {
	stores    *memStoreRepo
	products  *memProductRepo
	orders    *memOrderRepo
	publisher *stubOrderPublisher
	exports   *stubExportStorage
	audit     *captureAudit
	svc       OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		stores: newMemStoreRepo(
			domain.Store{ID: "s1", OwnerUID: "owner-1", Slug: "tortas", Name: "Tortas Lola", WhatsAppNumber: "5491155551234", Currency: "ARS", Locale: "es-AR", Status: domain.StoreStatusActive},
			domain.Store{ID: "s2", OwnerUID: "owner-2", Slug: "cerrada", WhatsAppNumber: "5491155550000", Currency: "ARS", Status: domain.StoreStatusSuspended},
		),
		products: newMemProductRepo(
			domain.Product{ID: "cake", StoreID: "s1", Name: "Torta", BasePrice: 1000, Active: true, Variants: normalizeVariantGroups(cakeGroups())},
			domain.Product{ID: "cookie", StoreID: "s1", Name: "Galletita", BasePrice: 250, Active: true},
			domain.Product{ID: "old", StoreID: "s1", Name: "Vieja", BasePrice: 100, Active: false},
		),
		orders:    newMemOrderRepo(),
		publisher: &stubOrderPublisher{},
		exports:   &stubExportStorage{},
		audit:     &captureAudit{},
	}
	links, err := whatsapp.NewLinkBuilder("")
	if err != nil {
		t.Fatalf("NewLinkBuilder: %v", err)
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Stores:      f.stores,
		Products:    f.products,
		Orders:      f.orders,
		Links:       links,
		Events:      f.publisher,
		Exports:     f.exports,
		Audit:       f.audit,
		Clock:       fixedClock(orderTestNow),
		IDGenerator: sequentialIDs("id-"),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func validPlaceOrder() PlaceOrderCommand {
	return PlaceOrderCommand{
		StoreSlug: "tortas",
		Customer:  OrderCustomer{Name: " Ana ", Phone: "+54 11 4444-5555", Note: "Sin TACC"},
		Lines: []PlaceOrderLine{
			{ProductID: "cake", Quantity: 2, Selection: VariantSelection{"size": {"l"}, "extras": {"fr"}}},
			{ProductID: "cookie", Quantity: 3},
		},
	}
}

func TestOrderServicePlaceOrder(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Number != 1 || order.Status != domain.OrderStatusPending || order.Currency != "ARS" {
		t.Fatalf("unexpected order header %+v", order)
	}
	if order.Customer.Name != "Ana" || order.Customer.Phone != "541144445555" {
		t.Fatalf("unexpected customer %+v", order.Customer)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(order.Lines))
	}
	cake := order.Lines[0]
	if cake.UnitPrice != 1800 || cake.LineTotal != 3600 || cake.BasePrice != 1000 || cake.ProductName != "Torta" {
		t.Fatalf("unexpected cake line %+v", cake)
	}
	if len(cake.Options) != 2 || cake.Options[0].GroupName != "Tamaño" || cake.Options[0].OptionLabel != "Grande" || cake.Options[1].PriceModifier != 300 {
		t.Fatalf("unexpected option snapshot %+v", cake.Options)
	}
	if order.Total != 3600+750 {
		t.Fatalf("unexpected total %d", order.Total)
	}
	if !strings.HasPrefix(order.WhatsAppURL, "https://wa.me/5491155551234?text=") {
		t.Fatalf("unexpected whatsapp url %q", order.WhatsAppURL)
	}

	stored, err := f.orders.Get(context.Background(), "s1", order.ID)
	if err != nil || stored.WhatsAppURL != order.WhatsAppURL {
		t.Fatalf("expected stored order with link, got %+v err=%v", stored, err)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.publisher.events))
	}
	event := f.publisher.events[0]
	if event.OrderID != order.ID || event.StoreSlug != "tortas" || event.ItemCount != 5 || event.Total != order.Total {
		t.Fatalf("unexpected event %+v", event)
	}

	second, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder())
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}
	if second.Number != 2 {
		t.Fatalf("expected sequential numbering, got %d", second.Number)
	}
}

func TestOrderServicePlaceOrderIncompleteSelection(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validPlaceOrder()
	cmd.Lines[0].Selection = VariantSelection{"extras": {"fr"}}

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderIncompleteSelection) {
		t.Fatalf("expected incomplete selection, got %v", err)
	}
	var incomplete *IncompleteSelectionError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteSelectionError, got %T", err)
	}
	if incomplete.ProductID != "cake" || len(incomplete.MissingGroups) != 1 || incomplete.MissingGroups[0] != "size" {
		t.Fatalf("unexpected details %+v", incomplete)
	}
	if len(f.orders.orders) != 0 || len(f.publisher.events) != 0 {
		t.Fatal("expected nothing stored or published")
	}
}

func TestOrderServicePlaceOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PlaceOrderCommand)
		want   error
	}{
		{name: "no lines", mutate: func(c *PlaceOrderCommand) { c.Lines = nil }, want: ErrOrderInvalidInput},
		{name: "too many lines", mutate: func(c *PlaceOrderCommand) {
			c.Lines = make([]PlaceOrderLine, maxOrderLines+1)
			for i := range c.Lines {
				c.Lines[i] = PlaceOrderLine{ProductID: "cookie", Quantity: 1}
			}
		}, want: ErrOrderInvalidInput},
		{name: "zero quantity", mutate: func(c *PlaceOrderCommand) { c.Lines[1].Quantity = 0 }, want: ErrOrderInvalidInput},
		{name: "quantity above limit", mutate: func(c *PlaceOrderCommand) { c.Lines[1].Quantity = 100 }, want: ErrOrderInvalidInput},
		{name: "missing customer", mutate: func(c *PlaceOrderCommand) { c.Customer.Name = "" }, want: ErrOrderInvalidInput},
		{name: "inactive product", mutate: func(c *PlaceOrderCommand) { c.Lines[1].ProductID = "old" }, want: ErrOrderProductUnavailable},
		{name: "unknown product", mutate: func(c *PlaceOrderCommand) { c.Lines[1].ProductID = "ghost" }, want: ErrOrderProductUnavailable},
		{name: "suspended store", mutate: func(c *PlaceOrderCommand) { c.StoreSlug = "cerrada" }, want: ErrStoreNotFound},
		{name: "unknown store", mutate: func(c *PlaceOrderCommand) { c.StoreSlug = "nadie" }, want: ErrStoreNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture(t)
			cmd := validPlaceOrder()
			tc.mutate(&cmd)
			if _, err := f.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServicePlaceOrderRejectsOverflowingTotals(t *testing.T) {
	f := newOrderFixture(t)
	huge := int64(math.MaxInt64/2 + 1)
	f.products.products["s1/gold"] = domain.Product{ID: "gold", StoreID: "s1", Name: "Oro", BasePrice: huge, Active: true}

	cmd := validPlaceOrder()
	cmd.Lines = []PlaceOrderLine{{ProductID: "gold", Quantity: 2}}
	if _, err := f.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected line overflow to be rejected, got %v", err)
	}

	cmd.Lines = []PlaceOrderLine{{ProductID: "gold", Quantity: 1}, {ProductID: "gold", Quantity: 1}}
	if _, err := f.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected total overflow to be rejected, got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order should be stored, got %d", len(f.orders.orders))
	}
}

func TestOrderServicePublishFailureDoesNotFailOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.publisher.err = errBoom

	order, err := f.svc.PlaceOrder(context.Background(), validPlaceOrder())
	if err != nil {
		t.Fatalf("expected order to succeed despite publish error, got %v", err)
	}
	if order.ID == "" {
		t.Fatal("expected order returned")
	}
}

func TestOrderServiceUpdateOrderStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, validPlaceOrder())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: order.ID, Status: domain.OrderStatusCompleted}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected pending -> completed rejected, got %v", err)
	}
	confirmed, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: order.ID, Status: "CONFIRMED"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status %s", confirmed.Status)
	}
	completed, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: order.ID, Status: domain.OrderStatusCompleted})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected status %s", completed.Status)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: order.ID, Status: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected completed orders to be final, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-2", OrderID: order.ID, Status: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected other merchants to see not found, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: order.ID, Status: "shipped"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
}

func TestOrderServiceCancelFromPendingIsAuditedWhenImpersonated(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, validPlaceOrder())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{
		OwnerUID: "owner-1",
		OrderID:  order.ID,
		Status:   domain.OrderStatusCancelled,
		Actor:    ActorContext{ActorID: "admin-1"},
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if actions := f.audit.actions(); len(actions) != 1 || actions[0] != "order.status.update" {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}

func TestOrderServiceListOrdersFiltersByStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	first, _ := f.svc.PlaceOrder(ctx, validPlaceOrder())
	if _, err := f.svc.PlaceOrder(ctx, validPlaceOrder()); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OwnerUID: "owner-1", OrderID: first.ID, Status: domain.OrderStatusConfirmed}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	page, err := f.svc.ListOrders(ctx, "owner-1", OrderListFilter{Status: domain.OrderStatusPending})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Number != 2 {
		t.Fatalf("unexpected pending orders %+v", page.Items)
	}
	if _, err := f.svc.GetOrder(ctx, "owner-1", first.ID); err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if _, err := f.svc.ListOrders(ctx, "owner-1", OrderListFilter{Status: "lost"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestOrderServiceExportOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	if _, err := f.svc.PlaceOrder(ctx, validPlaceOrder()); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	since := orderTestNow.Add(-time.Hour)
	until := orderTestNow.Add(time.Hour)
	export, err := f.svc.ExportOrders(ctx, ExportOrdersCommand{OwnerUID: "owner-1", Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("ExportOrders: %v", err)
	}
	if export.Count != 1 {
		t.Fatalf("expected 1 exported order, got %d", export.Count)
	}
	if export.Object != "exports/s1/orders-20250402T153000Z.xlsx" || f.exports.object != export.Object {
		t.Fatalf("unexpected object %q", export.Object)
	}
	if len(f.exports.data) == 0 || !strings.Contains(f.exports.contentType, "spreadsheetml") {
		t.Fatalf("expected workbook upload, got %d bytes %q", len(f.exports.data), f.exports.contentType)
	}
	if !strings.HasSuffix(export.Download.URL, export.Object) {
		t.Fatalf("unexpected download %+v", export.Download)
	}

	empty := orderTestNow.Add(-48 * time.Hour)
	emptyUntil := orderTestNow.Add(-24 * time.Hour)
	if _, err := f.svc.ExportOrders(ctx, ExportOrdersCommand{OwnerUID: "owner-1", Since: &empty, Until: &emptyUntil}); !errors.Is(err, ErrOrderExportEmpty) {
		t.Fatalf("expected empty export error, got %v", err)
	}
	if _, err := f.svc.ExportOrders(ctx, ExportOrdersCommand{OwnerUID: "owner-1", Since: &until, Until: &since}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected inverted range rejected, got %v", err)
	}
}
