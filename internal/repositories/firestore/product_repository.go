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
	productsCollection = "products"
	productCounterID   = "products"
)

type productDocument struct {
	Name            string                 `firestore:"name"`
	Description     string                 `firestore:"description,omitempty"`
	DescriptionHTML string                 `firestore:"descriptionHtml,omitempty"`
	BasePrice       int64                  `firestore:"basePrice"`
	ImageURL        string                 `firestore:"imageUrl,omitempty"`
	Variants        []variantGroupDocument `firestore:"variants"`
	Active          bool                   `firestore:"active"`
	Position        int                    `firestore:"position"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type variantGroupDocument struct {
	ID          string                  `firestore:"id"`
	Name        string                  `firestore:"name"`
	Kind        string                  `firestore:"kind"`
	Description string                  `firestore:"description,omitempty"`
	Options     []variantOptionDocument `firestore:"options"`
}

type variantOptionDocument struct {
	ID            string `firestore:"id"`
	Label         string `firestore:"label"`
	PriceModifier int64  `firestore:"priceModifier"`
}

// ProductRepository stores products under stores/{storeID}/products and keeps the store's
// product count in stores/{storeID}/counters/products so plan limits hold under concurrent
// creates.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	counters *pfirestore.Collection[counterDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, storesCollection, productsCollection),
		counters: pfirestore.NewCollection[counterDocument](provider, storesCollection, countersCollection),
	}, nil
}

// Create inserts the product and bumps the store's product counter in one transaction. Stores
// created before the counter existed are seeded by counting their products inside the same
// transaction.
func (r *ProductRepository) Create(ctx context.Context, product domain.Product, maxProducts int) error {
	if r == nil || r.provider == nil {
		return errNotInitialised
	}
	productsRef, err := r.products.Ref(ctx, product.StoreID)
	if err != nil {
		return err
	}
	counterRef, err := r.counters.Doc(ctx, productCounterID, product.StoreID)
	if err != nil {
		return err
	}
	productRef := productsRef.Doc(product.ID)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var counter counterDocument
		snap, err := tx.Get(counterRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&counter); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", product.StoreID, err)
			}
		case isMissing("products.create", err):
			existing, err := tx.Documents(productsRef.Select()).GetAll()
			if err != nil {
				return pfirestore.WrapError(r.products.Op("count"), err)
			}
			counter.CurrentValue = int64(len(existing))
		default:
			return err
		}

		if maxProducts > 0 && counter.CurrentValue >= int64(maxProducts) {
			return repositories.ErrProductLimitReached
		}
		counter.CurrentValue++
		counter.UpdatedAt = product.CreatedAt.UTC()
		if err := tx.Create(productRef, fromDomainProduct(product)); err != nil {
			return err
		}
		return tx.Set(counterRef, counter)
	})
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errNotInitialised
	}
	ref, err := r.products.Doc(ctx, product.ID, product.StoreID)
	if err != nil {
		return err
	}
	// Update fails with NotFound for missing products.
	if _, err := ref.Update(ctx, productUpdates(fromDomainProduct(product))); err != nil {
		return pfirestore.WrapError(r.products.Op("update"), err)
	}
	return nil
}

// Delete removes the product and releases its slot in the store's product counter, reporting
// not found when it did not exist.
func (r *ProductRepository) Delete(ctx context.Context, storeID, productID string) error {
	if r == nil || r.provider == nil {
		return errNotInitialised
	}
	ref, err := r.products.Doc(ctx, productID, storeID)
	if err != nil {
		return err
	}
	counterRef, err := r.counters.Doc(ctx, productCounterID, storeID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return pfirestore.WrapError(r.products.Op("delete"), err)
		}
		snap, err := tx.Get(counterRef)
		var counter counterDocument
		switch {
		case err == nil:
			if err := snap.DataTo(&counter); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", storeID, err)
			}
		case isMissing("products.delete", err):
			// Seeded on the next create.
			return tx.Delete(ref)
		default:
			return err
		}
		if counter.CurrentValue > 0 {
			counter.CurrentValue--
		}
		counter.UpdatedAt = time.Now().UTC()
		if err := tx.Delete(ref); err != nil {
			return err
		}
		return tx.Set(counterRef, counter)
	})
}

func (r *ProductRepository) Get(ctx context.Context, storeID, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errNotInitialised
	}
	doc, err := r.products.Get(ctx, productID, storeID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(storeID)(doc), nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.products == nil {
		return domain.CursorPage[domain.Product]{}, errNotInitialised
	}
	build := func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		return q.OrderBy("position", firestore.Asc).OrderBy("createdAt", firestore.Asc)
	}
	return listPage(ctx, r.products, build, filter.Pagination, toDomainProduct(filter.StoreID), filter.StoreID)
}

func productUpdates(doc productDocument) []firestore.Update {
	return []firestore.Update{
		{Path: "name", Value: doc.Name},
		{Path: "description", Value: doc.Description},
		{Path: "descriptionHtml", Value: doc.DescriptionHTML},
		{Path: "basePrice", Value: doc.BasePrice},
		{Path: "imageUrl", Value: doc.ImageURL},
		{Path: "variants", Value: doc.Variants},
		{Path: "active", Value: doc.Active},
		{Path: "position", Value: doc.Position},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
}

func fromDomainProduct(product domain.Product) productDocument {
	groups := make([]variantGroupDocument, 0, len(product.Variants))
	for _, g := range product.Variants {
		options := make([]variantOptionDocument, 0, len(g.Options))
		for _, o := range g.Options {
			options = append(options, variantOptionDocument{ID: o.ID, Label: o.Label, PriceModifier: o.PriceModifier})
		}
		groups = append(groups, variantGroupDocument{
			ID:          g.ID,
			Name:        g.Name,
			Kind:        string(g.Kind),
			Description: g.Description,
			Options:     options,
		})
	}
	return productDocument{
		Name:            product.Name,
		Description:     product.Description,
		DescriptionHTML: product.DescriptionHTML,
		BasePrice:       product.BasePrice,
		ImageURL:        product.ImageURL,
		Variants:        groups,
		Active:          product.Active,
		Position:        product.Position,
		CreatedAt:       product.CreatedAt.UTC(),
		UpdatedAt:       product.UpdatedAt.UTC(),
	}
}

func toDomainProduct(storeID string) func(pfirestore.Document[productDocument]) domain.Product {
	return func(doc pfirestore.Document[productDocument]) domain.Product {
		d := doc.Data
		groups := make([]domain.VariantGroup, 0, len(d.Variants))
		for _, g := range d.Variants {
			options := make([]domain.VariantOption, 0, len(g.Options))
			for _, o := range g.Options {
				options = append(options, domain.VariantOption{ID: o.ID, Label: o.Label, PriceModifier: o.PriceModifier})
			}
			groups = append(groups, domain.VariantGroup{
				ID:          g.ID,
				Name:        g.Name,
				Kind:        domain.VariantKind(g.Kind),
				Description: g.Description,
				Options:     options,
			})
		}
		product := domain.Product{
			ID:              doc.ID,
			StoreID:         storeID,
			Name:            d.Name,
			Description:     d.Description,
			DescriptionHTML: d.DescriptionHTML,
			BasePrice:       d.BasePrice,
			ImageURL:        d.ImageURL,
			Variants:        groups,
			Active:          d.Active,
			Position:        d.Position,
			CreatedAt:       d.CreatedAt,
			UpdatedAt:       d.UpdatedAt,
		}
		if product.CreatedAt.IsZero() {
			product.CreatedAt = doc.CreateTime
		}
		return product
	}
}
