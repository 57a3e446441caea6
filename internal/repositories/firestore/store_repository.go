package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	storesCollection      = "stores"
	storeSlugsCollection  = "storeSlugs"
	storeOwnersCollection = "storeOwners"
)

type storeDocument struct {
	OwnerUID        string          `firestore:"ownerUid"`
	Slug            string          `firestore:"slug"`
	Name            string          `firestore:"name"`
	SearchName      string          `firestore:"searchName"`
	Description     string          `firestore:"description,omitempty"`
	WhatsAppNumber  string          `firestore:"whatsappNumber"`
	Currency        string          `firestore:"currency"`
	Locale          string          `firestore:"locale"`
	LogoURL         string          `firestore:"logoUrl,omitempty"`
	Status          string          `firestore:"status"`
	SuspendedReason string          `firestore:"suspendedReason,omitempty"`
	PlanID          string          `firestore:"planId"`
	Billing         billingDocument `firestore:"billing"`
	CreatedAt       time.Time       `firestore:"createdAt"`
	UpdatedAt       time.Time       `firestore:"updatedAt"`
}

type billingDocument struct {
	Status               string     `firestore:"status"`
	PaidUntil            *time.Time `firestore:"paidUntil,omitempty"`
	StripeCustomerID     string     `firestore:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `firestore:"stripeSubscriptionId"`
	Note                 string     `firestore:"note,omitempty"`
	UpdatedAt            time.Time  `firestore:"updatedAt"`
	UpdatedBy            string     `firestore:"updatedBy,omitempty"`
}

type reservationDocument struct {
	StoreID   string    `firestore:"storeId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// StoreRepository persists stores plus the slug and owner reservation documents that keep both
// unique across the platform.
type StoreRepository struct {
	provider *pfirestore.Provider
	stores   *pfirestore.Collection[storeDocument]
	slugs    *pfirestore.Collection[reservationDocument]
	owners   *pfirestore.Collection[reservationDocument]
}

var _ repositories.StoreRepository = (*StoreRepository)(nil)

// NewStoreRepository constructs a Firestore-backed store repository.
func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository requires firestore provider")
	}
	return &StoreRepository{
		provider: provider,
		stores:   pfirestore.NewCollection[storeDocument](provider, storesCollection),
		slugs:    pfirestore.NewCollection[reservationDocument](provider, storeSlugsCollection),
		owners:   pfirestore.NewCollection[reservationDocument](provider, storeOwnersCollection),
	}, nil
}

// Create writes the store and both reservations in one transaction.
func (r *StoreRepository) Create(ctx context.Context, store domain.Store) error {
	if r == nil || r.provider == nil {
		return errNotInitialised
	}
	storeRef, err := r.stores.Doc(ctx, store.ID)
	if err != nil {
		return err
	}
	slugRef, err := r.slugs.Doc(ctx, store.Slug)
	if err != nil {
		return err
	}
	ownerRef, err := r.owners.Doc(ctx, store.OwnerUID)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		slugSnap, err := tx.Get(slugRef)
		if err != nil && !isMissing("stores.create", err) {
			return err
		}
		if slugSnap != nil && slugSnap.Exists() {
			return repositories.ErrStoreSlugTaken
		}
		ownerSnap, err := tx.Get(ownerRef)
		if err != nil && !isMissing("stores.create", err) {
			return err
		}
		if ownerSnap != nil && ownerSnap.Exists() {
			return repositories.ErrStoreOwnerExists
		}

		reservation := reservationDocument{StoreID: store.ID, CreatedAt: store.CreatedAt}
		if err := tx.Create(storeRef, fromDomainStore(store)); err != nil {
			return err
		}
		if err := tx.Create(slugRef, reservation); err != nil {
			return err
		}
		return tx.Create(ownerRef, reservation)
	})
}

// Update replaces an existing store document. Slug and owner are immutable after creation.
func (r *StoreRepository) Update(ctx context.Context, store domain.Store) error {
	_, err := r.Mutate(ctx, store.ID, func(current *domain.Store) error {
		slug, owner := current.Slug, current.OwnerUID
		*current = store
		current.Slug, current.OwnerUID = slug, owner
		return nil
	})
	return err
}

// Mutate applies fn to the stored document inside a transaction.
func (r *StoreRepository) Mutate(ctx context.Context, storeID string, fn func(store *domain.Store) error) (domain.Store, error) {
	if r == nil || r.provider == nil {
		return domain.Store{}, errNotInitialised
	}
	ref, err := r.stores.Doc(ctx, storeID)
	if err != nil {
		return domain.Store{}, err
	}

	var result domain.Store
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("stores.mutate", err)
		}
		doc, err := pfirestore.Decode[storeDocument](snap)
		if err != nil {
			return err
		}
		store := toDomainStore(doc)
		if err := fn(&store); err != nil {
			return err
		}
		store.ID = doc.ID
		result = store
		return tx.Set(ref, fromDomainStore(store))
	})
	if err != nil {
		return domain.Store{}, err
	}
	return result, nil
}

// Get loads a store by ID.
func (r *StoreRepository) Get(ctx context.Context, storeID string) (domain.Store, error) {
	if r == nil || r.stores == nil {
		return domain.Store{}, errNotInitialised
	}
	doc, err := r.stores.Get(ctx, storeID)
	if err != nil {
		return domain.Store{}, err
	}
	return toDomainStore(doc), nil
}

// FindBySlug resolves the slug reservation and loads the store it points at.
func (r *StoreRepository) FindBySlug(ctx context.Context, slug string) (domain.Store, error) {
	return r.resolve(ctx, r.slugs, strings.ToLower(strings.TrimSpace(slug)))
}

// FindByOwner resolves the owner reservation and loads the store it points at.
func (r *StoreRepository) FindByOwner(ctx context.Context, ownerUID string) (domain.Store, error) {
	return r.resolve(ctx, r.owners, strings.TrimSpace(ownerUID))
}

func (r *StoreRepository) resolve(ctx context.Context, reservations *pfirestore.Collection[reservationDocument], key string) (domain.Store, error) {
	if r == nil || reservations == nil {
		return domain.Store{}, errNotInitialised
	}
	if key == "" {
		return domain.Store{}, pfirestore.NotFound(reservations.Op("get"), "reservation")
	}
	reservation, err := reservations.Get(ctx, key)
	if err != nil {
		return domain.Store{}, err
	}
	return r.Get(ctx, reservation.Data.StoreID)
}

// FindBySubscription looks up the store linked to a Stripe subscription.
func (r *StoreRepository) FindBySubscription(ctx context.Context, subscriptionID string) (domain.Store, error) {
	if r == nil || r.stores == nil {
		return domain.Store{}, errNotInitialised
	}
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return domain.Store{}, pfirestore.NotFound(r.stores.Op("find_by_subscription"), "store")
	}
	docs, err := r.stores.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("billing.stripeSubscriptionId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Store{}, err
	}
	if len(docs) == 0 {
		return domain.Store{}, pfirestore.NotFound(r.stores.Op("find_by_subscription"), fmt.Sprintf("store for subscription %s", id))
	}
	return toDomainStore(docs[0]), nil
}

// List pages through stores. A name prefix orders by name; otherwise newest stores come first.
func (r *StoreRepository) List(ctx context.Context, filter repositories.StoreFilter) (domain.CursorPage[domain.Store], error) {
	if r == nil || r.stores == nil {
		return domain.CursorPage[domain.Store]{}, errNotInitialised
	}
	build := func(q firestore.Query) firestore.Query {
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if id := strings.TrimSpace(filter.PlanID); id != "" {
			q = q.Where("planId", "==", id)
		}
		switch {
		case filter.NamePrefix != "":
			return prefixQuery(q, "searchName", filter.NamePrefix)
		case filter.WithSubscription:
			return q.Where("billing.stripeSubscriptionId", ">", "").OrderBy("billing.stripeSubscriptionId", firestore.Asc)
		default:
			return q.OrderBy("createdAt", firestore.Desc)
		}
	}
	return listPage(ctx, r.stores, build, filter.Pagination, toDomainStore)
}

func fromDomainStore(store domain.Store) storeDocument {
	return storeDocument{
		OwnerUID:        store.OwnerUID,
		Slug:            store.Slug,
		Name:            store.Name,
		SearchName:      textutil.SearchKey(store.Name),
		Description:     store.Description,
		WhatsAppNumber:  store.WhatsAppNumber,
		Currency:        store.Currency,
		Locale:          store.Locale,
		LogoURL:         store.LogoURL,
		Status:          string(store.Status),
		SuspendedReason: store.SuspendedReason,
		PlanID:          store.PlanID,
		Billing: billingDocument{
			Status:               string(store.Billing.Status),
			PaidUntil:            store.Billing.PaidUntil,
			StripeCustomerID:     store.Billing.StripeCustomerID,
			StripeSubscriptionID: store.Billing.StripeSubscriptionID,
			Note:                 store.Billing.Note,
			UpdatedAt:            store.Billing.UpdatedAt,
			UpdatedBy:            store.Billing.UpdatedBy,
		},
		CreatedAt: store.CreatedAt.UTC(),
		UpdatedAt: store.UpdatedAt.UTC(),
	}
}

func toDomainStore(doc pfirestore.Document[storeDocument]) domain.Store {
	d := doc.Data
	store := domain.Store{
		ID:              doc.ID,
		OwnerUID:        d.OwnerUID,
		Slug:            d.Slug,
		Name:            d.Name,
		Description:     d.Description,
		WhatsAppNumber:  d.WhatsAppNumber,
		Currency:        d.Currency,
		Locale:          d.Locale,
		LogoURL:         d.LogoURL,
		Status:          domain.StoreStatus(d.Status),
		SuspendedReason: d.SuspendedReason,
		PlanID:          d.PlanID,
		Billing: domain.BillingState{
			Status:               domain.BillingStatus(d.Billing.Status),
			PaidUntil:            d.Billing.PaidUntil,
			StripeCustomerID:     d.Billing.StripeCustomerID,
			StripeSubscriptionID: d.Billing.StripeSubscriptionID,
			Note:                 d.Billing.Note,
			UpdatedAt:            d.Billing.UpdatedAt,
			UpdatedBy:            d.Billing.UpdatedBy,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if store.CreatedAt.IsZero() {
		store.CreatedAt = doc.CreateTime
	}
	if store.UpdatedAt.IsZero() {
		store.UpdatedAt = doc.UpdateTime
	}
	return store
}
