package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/observability"
	"github.com/flowix-ar/storefront/internal/platform/orderexport"
	"github.com/flowix-ar/storefront/internal/platform/storage"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	orderMeterName          = "github.com/flowix-ar/storefront/internal/services"
	maxOrderLines           = 50
	maxLineQuantity         = 99
	maxCustomerNameLength   = 80
	maxCustomerNoteLength   = 500
	maxOrdersPerExport      = 5000
	orderExportPageSize     = 100
	defaultOrderExportRange = 30 * 24 * time.Hour
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderProductUnavailable indicates a line references a missing or inactive product.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderIncompleteSelection indicates a line leaves required variant groups unselected.
	ErrOrderIncompleteSelection = errors.New("order: incomplete variant selection")
	// ErrOrderExportEmpty indicates no orders matched the export range.
	ErrOrderExportEmpty = errors.New("order: nothing to export")
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// IncompleteSelectionError reports which required groups a line left unselected.
type IncompleteSelectionError struct {
	ProductID     string
	MissingGroups []string
}

func (e *IncompleteSelectionError) Error() string {
	return fmt.Sprintf("%s: product %s is missing %s", ErrOrderIncompleteSelection.Error(), e.ProductID, strings.Join(e.MissingGroups, ", "))
}

func (e *IncompleteSelectionError) Unwrap() error { return ErrOrderIncompleteSelection }

// OrderLinkBuilder renders the WhatsApp deep link for an order.
type OrderLinkBuilder interface {
	OrderLink(store domain.Store, order domain.Order) (string, error)
}

// OrderServiceDeps wires the order service.
type OrderServiceDeps struct {
	Stores         repositories.StoreRepository
	Products       repositories.ProductRepository
	Orders         repositories.OrderRepository
	Pricer         VariantPricer
	Links          OrderLinkBuilder
	Events         OrderEventPublisher
	Exports        ExportStorage
	Audit          AuditLogService
	Meter          metric.Meter
	ExportLocation *time.Location
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	stores    repositories.StoreRepository
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	pricer    VariantPricer
	links     OrderLinkBuilder
	events    OrderEventPublisher
	exports   ExportStorage
	audit     AuditLogService
	location  *time.Location
	now       func() time.Time
	newID     func() string
	log       eventLogger
	placed    metric.Int64Counter
	orderSize metric.Int64Histogram
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Stores == nil {
		return nil, errors.New("order service: store repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Links == nil {
		return nil, errors.New("order service: link builder is required")
	}
	pricer := deps.Pricer
	if pricer == nil {
		pricer = NewVariantPricer()
	}
	location := deps.ExportLocation
	if location == nil {
		location = time.UTC
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderMeterName)
	}
	placed, err := meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders placed through storefronts"))
	if err != nil {
		return nil, fmt.Errorf("order service: create counter: %w", err)
	}
	orderSize, err := meter.Int64Histogram("storefront.orders.items",
		metric.WithDescription("Units per placed order"))
	if err != nil {
		return nil, fmt.Errorf("order service: create histogram: %w", err)
	}

	return &orderService{
		stores:    deps.Stores,
		products:  deps.Products,
		orders:    deps.Orders,
		pricer:    pricer,
		links:     deps.Links,
		events:    deps.Events,
		exports:   deps.Exports,
		audit:     deps.Audit,
		location:  location,
		now:       utcClock(deps.Clock),
		newID:     idGenerator(deps.IDGenerator),
		log:       newLogger(deps.Logger),
		placed:    placed,
		orderSize: orderSize,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	slug := strings.ToLower(strings.TrimSpace(cmd.StoreSlug))
	if slug == "" {
		return Order{}, ErrStoreNotFound
	}
	ctx, span := observability.StartSpan(ctx, "orders.place", attribute.String("flowix.store.slug", slug))
	defer span.End()

	customer, err := normalizeCustomer(cmd.Customer)
	if err != nil {
		return Order{}, err
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) > maxOrderLines {
		return Order{}, fmt.Errorf("%w: at most %d lines are allowed", ErrOrderInvalidInput, maxOrderLines)
	}

	store, err := s.stores.FindBySlug(ctx, slug)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrStoreNotFound
		}
		return Order{}, fmt.Errorf("order: load store: %w", err)
	}
	if store.Status != domain.StoreStatusActive {
		return Order{}, ErrStoreNotFound
	}

	lines := make([]OrderLine, 0, len(cmd.Lines))
	products := make(map[string]Product, len(cmd.Lines))
	var total int64
	units := 0
	for i, input := range cmd.Lines {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: lines[%d].product_id is required", ErrOrderInvalidInput, i)
		}
		if input.Quantity < 1 || input.Quantity > maxLineQuantity {
			return Order{}, fmt.Errorf("%w: lines[%d].quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxLineQuantity)
		}
		product, ok := products[productID]
		if !ok {
			product, err = s.products.Get(ctx, store.ID, productID)
			if err != nil {
				if isRepoNotFound(err) {
					return Order{}, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, productID)
				}
				return Order{}, fmt.Errorf("order: load product: %w", err)
			}
			products[productID] = product
		}
		if !product.Active {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, productID)
		}

		resolution := s.pricer.Resolve(product.Priced(), input.Selection)
		if !resolution.IsComplete {
			return Order{}, &IncompleteSelectionError{
				ProductID:     productID,
				MissingGroups: slices.Clone(resolution.MissingRequiredGroups),
			}
		}

		if resolution.UnitPrice > math.MaxInt64/int64(input.Quantity) {
			return Order{}, fmt.Errorf("%w: lines[%d] total is too large", ErrOrderInvalidInput, i)
		}
		line := OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			ImageURL:    product.ImageURL,
			Quantity:    input.Quantity,
			BasePrice:   product.BasePrice,
			UnitPrice:   resolution.UnitPrice,
			LineTotal:   resolution.UnitPrice * int64(input.Quantity),
		}
		if len(resolution.Selected) > 0 {
			line.Options = make([]OrderLineOption, 0, len(resolution.Selected))
			for _, opt := range resolution.Selected {
				line.Options = append(line.Options, OrderLineOption{
					GroupID:       opt.GroupID,
					GroupName:     opt.GroupName,
					OptionID:      opt.OptionID,
					OptionLabel:   opt.OptionLabel,
					PriceModifier: opt.PriceModifier,
				})
			}
		}
		if total > math.MaxInt64-line.LineTotal {
			return Order{}, fmt.Errorf("%w: order total is too large", ErrOrderInvalidInput)
		}
		total += line.LineTotal
		units += input.Quantity
		lines = append(lines, line)
	}

	now := s.now()
	order := Order{
		ID:        s.newID(),
		StoreID:   store.ID,
		Customer:  customer,
		Lines:     lines,
		Total:     total,
		Currency:  store.Currency,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.orders.Create(ctx, order, func(o *domain.Order) error {
		link, err := s.links.OrderLink(store, *o)
		if err != nil {
			return err
		}
		o.WhatsAppURL = link
		return nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("order: create: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("store_id", store.ID))
	s.placed.Add(ctx, 1, attrs)
	s.orderSize.Record(ctx, int64(units), attrs)
	s.log(ctx, "order.placed", map[string]any{
		"storeId": store.ID,
		"orderId": created.ID,
		"number":  created.Number,
		"total":   created.Total,
	})
	s.publishPlaced(ctx, store, created, units)
	return created, nil
}

// publishPlaced emits the order.placed event. The order is already stored, so failures are logged.
func (s *orderService) publishPlaced(ctx context.Context, store Store, order Order, units int) {
	if s.events == nil {
		return
	}
	event := OrderPlacedEvent{
		EventID:    s.newID(),
		StoreID:    store.ID,
		StoreSlug:  store.Slug,
		OrderID:    order.ID,
		Number:     order.Number,
		Total:      order.Total,
		Currency:   order.Currency,
		ItemCount:  units,
		OccurredAt: order.CreatedAt,
	}
	messageID, err := s.events.PublishOrderPlaced(ctx, event)
	if err != nil {
		s.log(ctx, "order.publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return
	}
	s.log(ctx, "order.published", map[string]any{"orderId": order.ID, "messageId": messageID})
}

func (s *orderService) ListOrders(ctx context.Context, ownerUID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	store, err := s.ownerStore(ctx, ownerUID)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	status := OrderStatus(strings.ToLower(strings.TrimSpace(string(filter.Status))))
	if status != "" && !validOrderStatus(status) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
	}
	page, err := s.orders.List(ctx, repositories.OrderFilter{
		StoreID:    store.ID,
		Status:     status,
		Pagination: clampPage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("order: list: %w", err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, ownerUID, orderID string) (Order, error) {
	store, err := s.ownerStore(ctx, ownerUID)
	if err != nil {
		return Order{}, err
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, store.ID, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	store, err := s.ownerStore(ctx, cmd.OwnerUID)
	if err != nil {
		return Order{}, err
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !validOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.now()
	var before OrderStatus
	updated, err := s.orders.Mutate(ctx, store.ID, id, func(order *domain.Order) error {
		if !slices.Contains(orderStateTransitions[order.Status], target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}
		before = order.Status
		order.Status = target
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderInvalidState):
			return Order{}, err
		case isRepoNotFound(err):
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}

	s.log(ctx, "order.status_changed", map[string]any{"orderId": id, "from": string(before), "to": string(target)})
	if s.audit != nil && isImpersonatedActor(cmd.Actor, store.OwnerUID) {
		actor := cmd.Actor
		if actor.ActorType == "" {
			actor.ActorType = actorTypeStaff
		}
		s.audit.Record(ctx, auditFromActor(actor, AuditLogRecord{
			Action:    "order.status.update",
			TargetRef: storeTargetRef(store.ID) + "/orders/" + id,
			Severity:  severityInfo,
			Diff:      map[string]AuditLogDiff{"status": {Before: string(before), After: string(target)}},
			Metadata:  map[string]any{"ownerUid": store.OwnerUID, "impersonated": true},
		}))
	}
	return updated, nil
}

func (s *orderService) ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (OrderExport, error) {
	if s.exports == nil {
		return OrderExport{}, errors.New("order: export storage not configured")
	}
	store, err := s.ownerStore(ctx, cmd.OwnerUID)
	if err != nil {
		return OrderExport{}, err
	}
	ctx, span := observability.StartSpan(ctx, "orders.export", attribute.String("flowix.store.id", store.ID))
	defer span.End()

	now := s.now()
	until := now
	if cmd.Until != nil {
		until = cmd.Until.UTC()
	}
	since := until.Add(-defaultOrderExportRange)
	if cmd.Since != nil {
		since = cmd.Since.UTC()
	}
	if !since.Before(until) {
		return OrderExport{}, fmt.Errorf("%w: since must be before until", ErrOrderInvalidInput)
	}

	var orders []Order
	token := ""
	for {
		page, err := s.orders.List(ctx, repositories.OrderFilter{
			StoreID:    store.ID,
			Since:      &since,
			Until:      &until,
			Pagination: Pagination{PageSize: orderExportPageSize, PageToken: token},
		})
		if err != nil {
			return OrderExport{}, fmt.Errorf("order: export list: %w", err)
		}
		orders = append(orders, page.Items...)
		if len(orders) > maxOrdersPerExport {
			return OrderExport{}, fmt.Errorf("%w: more than %d orders, narrow the range", ErrOrderInvalidInput, maxOrdersPerExport)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(orders) == 0 {
		return OrderExport{}, ErrOrderExportEmpty
	}

	data, err := orderexport.Workbook(orders, store.Currency, s.location)
	if err != nil {
		return OrderExport{}, fmt.Errorf("order: build workbook: %w", err)
	}
	object, err := storage.OrderExportPath(store.ID, now)
	if err != nil {
		return OrderExport{}, fmt.Errorf("order: export path: %w", err)
	}
	if err := s.exports.Put(ctx, object, orderexport.ContentType, data); err != nil {
		return OrderExport{}, fmt.Errorf("order: upload export: %w", err)
	}
	download, err := s.exports.SignedDownloadURL(ctx, object)
	if err != nil {
		return OrderExport{}, fmt.Errorf("order: sign export: %w", err)
	}

	s.log(ctx, "order.exported", map[string]any{"storeId": store.ID, "object": object, "count": len(orders)})
	return OrderExport{Object: object, Count: len(orders), Download: download}, nil
}

func (s *orderService) ownerStore(ctx context.Context, ownerUID string) (Store, error) {
	owner := strings.TrimSpace(ownerUID)
	if owner == "" {
		return Store{}, fmt.Errorf("%w: owner uid is required", ErrOrderInvalidInput)
	}
	store, err := s.stores.FindByOwner(ctx, owner)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("order: load store: %w", err)
	}
	return store, nil
}

func normalizeCustomer(in OrderCustomer) (OrderCustomer, error) {
	out := OrderCustomer{
		Name:  strings.TrimSpace(in.Name),
		Phone: textutil.Digits(in.Phone),
		Note:  strings.TrimSpace(in.Note),
	}
	if out.Name == "" {
		return OrderCustomer{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if runeLen(out.Name) > maxCustomerNameLength {
		return OrderCustomer{}, fmt.Errorf("%w: customer name is too long", ErrOrderInvalidInput)
	}
	if out.Phone != "" && (len(out.Phone) < 6 || len(out.Phone) > 15) {
		return OrderCustomer{}, fmt.Errorf("%w: customer phone is invalid", ErrOrderInvalidInput)
	}
	if runeLen(out.Note) > maxCustomerNoteLength {
		return OrderCustomer{}, fmt.Errorf("%w: note must be at most %d characters", ErrOrderInvalidInput, maxCustomerNoteLength)
	}
	return out, nil
}

func validOrderStatus(status OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return true
	}
	return false
}
