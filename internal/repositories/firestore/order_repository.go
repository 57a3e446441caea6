package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	ordersCollection   = "orders"
	countersCollection = "counters"
	orderCounterID     = "orders"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type orderDocument struct {
	Number      int64               `firestore:"number"`
	Customer    orderCustomerDoc    `firestore:"customer"`
	Lines       []orderLineDocument `firestore:"lines"`
	Total       int64               `firestore:"total"`
	Currency    string              `firestore:"currency"`
	Status      string              `firestore:"status"`
	WhatsAppURL string              `firestore:"whatsappUrl"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type orderCustomerDoc struct {
	Name  string `firestore:"name"`
	Phone string `firestore:"phone,omitempty"`
	Note  string `firestore:"note,omitempty"`
}

type orderLineDocument struct {
	ProductID   string                `firestore:"productId"`
	ProductName string                `firestore:"productName"`
	ImageURL    string                `firestore:"imageUrl,omitempty"`
	Quantity    int                   `firestore:"quantity"`
	BasePrice   int64                 `firestore:"basePrice"`
	UnitPrice   int64                 `firestore:"unitPrice"`
	LineTotal   int64                 `firestore:"lineTotal"`
	Options     []orderOptionDocument `firestore:"options,omitempty"`
}

type orderOptionDocument struct {
	GroupID       string `firestore:"groupId"`
	GroupName     string `firestore:"groupName"`
	OptionID      string `firestore:"optionId"`
	OptionLabel   string `firestore:"optionLabel"`
	PriceModifier int64  `firestore:"priceModifier"`
}

// OrderRepository stores orders under stores/{storeID}/orders and numbers them with a per-store
// counter document at stores/{storeID}/counters/orders.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	counters *pfirestore.Collection[counterDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, storesCollection, ordersCollection),
		counters: pfirestore.NewCollection[counterDocument](provider, storesCollection, countersCollection),
	}, nil
}

// Create increments the store's order counter and inserts the order in the same transaction, so
// numbers are gap free and never reused.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order, finalize func(order *domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errNotInitialised
	}
	counterRef, err := r.counters.Doc(ctx, orderCounterID, order.StoreID)
	if err != nil {
		return domain.Order{}, err
	}
	orderRef, err := r.orders.Doc(ctx, order.ID, order.StoreID)
	if err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var counter counterDocument
		snap, err := tx.Get(counterRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&counter); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", order.StoreID, err)
			}
		case isMissing("orders.create", err):
		default:
			return err
		}

		next := order
		next.Number = counter.CurrentValue + 1
		if finalize != nil {
			if err := finalize(&next); err != nil {
				return err
			}
		}

		counter.CurrentValue = next.Number
		counter.UpdatedAt = next.CreatedAt.UTC()
		if err := tx.Set(counterRef, counter); err != nil {
			return err
		}
		if err := tx.Create(orderRef, fromDomainOrder(next)); err != nil {
			return err
		}
		created = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func (r *OrderRepository) Get(ctx context.Context, storeID, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errNotInitialised
	}
	doc, err := r.orders.Get(ctx, orderID, storeID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(storeID)(doc), nil
}

// Mutate applies fn to the stored order inside a transaction.
func (r *OrderRepository) Mutate(ctx context.Context, storeID, orderID string, fn func(order *domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errNotInitialised
	}
	ref, err := r.orders.Doc(ctx, orderID, storeID)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		order := toDomainOrder(storeID)(doc)
		if err := fn(&order); err != nil {
			return err
		}
		order.ID, order.StoreID = doc.ID, storeID
		result = order
		return tx.Set(ref, fromDomainOrder(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// List returns the newest orders first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errNotInitialised
	}
	build := func(q firestore.Query) firestore.Query {
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if filter.Since != nil {
			q = q.Where("createdAt", ">=", filter.Since.UTC())
		}
		if filter.Until != nil {
			q = q.Where("createdAt", "<", filter.Until.UTC())
		}
		return q.OrderBy("createdAt", firestore.Desc)
	}
	return listPage(ctx, r.orders, build, filter.Pagination, toDomainOrder(filter.StoreID), filter.StoreID)
}

func fromDomainOrder(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		var options []orderOptionDocument
		for _, o := range line.Options {
			options = append(options, orderOptionDocument{
				GroupID:       o.GroupID,
				GroupName:     o.GroupName,
				OptionID:      o.OptionID,
				OptionLabel:   o.OptionLabel,
				PriceModifier: o.PriceModifier,
			})
		}
		lines = append(lines, orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ImageURL:    line.ImageURL,
			Quantity:    line.Quantity,
			BasePrice:   line.BasePrice,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
			Options:     options,
		})
	}
	return orderDocument{
		Number:      order.Number,
		Customer:    orderCustomerDoc{Name: order.Customer.Name, Phone: order.Customer.Phone, Note: order.Customer.Note},
		Lines:       lines,
		Total:       order.Total,
		Currency:    order.Currency,
		Status:      string(order.Status),
		WhatsAppURL: order.WhatsAppURL,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
	}
}

func toDomainOrder(storeID string) func(pfirestore.Document[orderDocument]) domain.Order {
	return func(doc pfirestore.Document[orderDocument]) domain.Order {
		d := doc.Data
		lines := make([]domain.OrderLine, 0, len(d.Lines))
		for _, line := range d.Lines {
			var options []domain.OrderLineOption
			for _, o := range line.Options {
				options = append(options, domain.OrderLineOption{
					GroupID:       o.GroupID,
					GroupName:     o.GroupName,
					OptionID:      o.OptionID,
					OptionLabel:   o.OptionLabel,
					PriceModifier: o.PriceModifier,
				})
			}
			lines = append(lines, domain.OrderLine{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				ImageURL:    line.ImageURL,
				Quantity:    line.Quantity,
				BasePrice:   line.BasePrice,
				UnitPrice:   line.UnitPrice,
				LineTotal:   line.LineTotal,
				Options:     options,
			})
		}
		return domain.Order{
			ID:          doc.ID,
			StoreID:     storeID,
			Number:      d.Number,
			Customer:    domain.OrderCustomer{Name: d.Customer.Name, Phone: d.Customer.Phone, Note: d.Customer.Note},
			Lines:       lines,
			Total:       d.Total,
			Currency:    d.Currency,
			Status:      domain.OrderStatus(d.Status),
			WhatsAppURL: d.WhatsAppURL,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
		}
	}
}
