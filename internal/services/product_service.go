package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	maxProductNameLength = 120
	maxProductDescLength = 4000
	maxProductBasePrice  = int64(1_000_000_000_00)
)

var (
	// ErrProductInvalidInput signals the caller provided invalid data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located or is not public.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductPlanLimit indicates the store reached the product limit of its plan.
	ErrProductPlanLimit = errors.New("product: plan product limit reached")
)

// DescriptionRenderer turns merchant Markdown into sanitised HTML.
type DescriptionRenderer interface {
	Markdown(src string) (string, error)
}

// ProductServiceDeps wires the product service.
type ProductServiceDeps struct {
	Stores      repositories.StoreRepository
	Products    repositories.ProductRepository
	Plans       repositories.PlanRepository
	Pricer      VariantPricer
	Renderer    DescriptionRenderer
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	stores   repositories.StoreRepository
	products repositories.ProductRepository
	plans    repositories.PlanRepository
	pricer   VariantPricer
	renderer DescriptionRenderer
	audit    AuditLogService
	now      func() time.Time
	newID    func() string
	log      eventLogger
}

// NewProductService constructs a ProductService.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Stores == nil {
		return nil, errors.New("product service: store repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	pricer := deps.Pricer
	if pricer == nil {
		pricer = NewVariantPricer()
	}
	return &productService{
		stores:   deps.Stores,
		products: deps.Products,
		plans:    deps.Plans,
		pricer:   pricer,
		renderer: deps.Renderer,
		audit:    deps.Audit,
		now:      utcClock(deps.Clock),
		newID:    idGenerator(deps.IDGenerator),
		log:      newLogger(deps.Logger),
	}, nil
}

func (s *productService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	store, err := s.ownerStore(ctx, cmd.OwnerUID)
	if err != nil {
		return Product{}, err
	}

	name, err := validateProductName(cmd.Name)
	if err != nil {
		return Product{}, err
	}
	if err := validateBasePrice(cmd.BasePrice); err != nil {
		return Product{}, err
	}
	groups, err := prepareVariantGroups(cmd.Variants)
	if err != nil {
		return Product{}, err
	}
	description, html, err := s.renderDescription(cmd.Description)
	if err != nil {
		return Product{}, err
	}
	limit, err := s.productLimit(ctx, store)
	if err != nil {
		return Product{}, err
	}

	active := true
	if cmd.Active != nil {
		active = *cmd.Active
	}
	now := s.now()
	product := Product{
		ID:              s.newID(),
		StoreID:         store.ID,
		Name:            name,
		Description:     description,
		DescriptionHTML: html,
		BasePrice:       cmd.BasePrice,
		ImageURL:        strings.TrimSpace(cmd.ImageURL),
		Variants:        groups,
		Active:          active,
		Position:        cmd.Position,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.products.Create(ctx, product, limit); err != nil {
		if errors.Is(err, repositories.ErrProductLimitReached) {
			return Product{}, fmt.Errorf("%w: plan %s allows %d products", ErrProductPlanLimit, store.PlanID, limit)
		}
		if isRepoConflict(err) {
			return Product{}, fmt.Errorf("%w: product already exists", ErrProductInvalidInput)
		}
		return Product{}, fmt.Errorf("product: create: %w", err)
	}

	s.log(ctx, "product.created", map[string]any{"storeId": store.ID, "productId": product.ID})
	s.recordImpersonated(ctx, cmd.Actor, store, "product.create", product.ID)
	return product, nil
}

func (s *productService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	store, err := s.ownerStore(ctx, cmd.OwnerUID)
	if err != nil {
		return Product{}, err
	}
	product, err := s.loadProduct(ctx, store.ID, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}

	if cmd.Name != nil {
		if product.Name, err = validateProductName(*cmd.Name); err != nil {
			return Product{}, err
		}
	}
	if cmd.Description != nil {
		if product.Description, product.DescriptionHTML, err = s.renderDescription(*cmd.Description); err != nil {
			return Product{}, err
		}
	}
	if cmd.BasePrice != nil {
		if err := validateBasePrice(*cmd.BasePrice); err != nil {
			return Product{}, err
		}
		product.BasePrice = *cmd.BasePrice
	}
	if cmd.ImageURL != nil {
		product.ImageURL = strings.TrimSpace(*cmd.ImageURL)
	}
	if cmd.Variants != nil {
		if product.Variants, err = prepareVariantGroups(*cmd.Variants); err != nil {
			return Product{}, err
		}
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	if cmd.Position != nil {
		product.Position = *cmd.Position
	}
	product.UpdatedAt = s.now()

	if err := s.products.Update(ctx, product); err != nil {
		if isRepoNotFound(err) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("product: update: %w", err)
	}
	s.recordImpersonated(ctx, cmd.Actor, store, "product.update", product.ID)
	return product, nil
}

func (s *productService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	store, err := s.ownerStore(ctx, cmd.OwnerUID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(cmd.ProductID)
	if id == "" {
		return fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if err := s.products.Delete(ctx, store.ID, id); err != nil {
		if isRepoNotFound(err) {
			return ErrProductNotFound
		}
		return fmt.Errorf("product: delete: %w", err)
	}
	s.log(ctx, "product.deleted", map[string]any{"storeId": store.ID, "productId": id})
	s.recordImpersonated(ctx, cmd.Actor, store, "product.delete", id)
	return nil
}

func (s *productService) GetProduct(ctx context.Context, ownerUID, productID string) (Product, error) {
	store, err := s.ownerStore(ctx, ownerUID)
	if err != nil {
		return Product{}, err
	}
	return s.loadProduct(ctx, store.ID, productID)
}

func (s *productService) ListProducts(ctx context.Context, ownerUID string, page Pagination) (domain.CursorPage[Product], error) {
	store, err := s.ownerStore(ctx, ownerUID)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}
	result, err := s.products.List(ctx, repositories.ProductFilter{StoreID: store.ID, Pagination: clampPage(page)})
	if err != nil {
		return domain.CursorPage[Product]{}, fmt.Errorf("product: list: %w", err)
	}
	return result, nil
}

func (s *productService) ListPublicProducts(ctx context.Context, slug string, page Pagination) (domain.CursorPage[Product], error) {
	store, err := s.publicStore(ctx, slug)
	if err != nil {
		return domain.CursorPage[Product]{}, err
	}
	result, err := s.products.List(ctx, repositories.ProductFilter{StoreID: store.ID, ActiveOnly: true, Pagination: clampPage(page)})
	if err != nil {
		return domain.CursorPage[Product]{}, fmt.Errorf("product: list public: %w", err)
	}
	return result, nil
}

func (s *productService) GetPublicProduct(ctx context.Context, slug, productID string) (Product, error) {
	store, err := s.publicStore(ctx, slug)
	if err != nil {
		return Product{}, err
	}
	product, err := s.loadProduct(ctx, store.ID, productID)
	if err != nil {
		return Product{}, err
	}
	if !product.Active {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func (s *productService) QuotePrice(ctx context.Context, cmd QuoteCommand) (PriceQuote, error) {
	store, err := s.publicStore(ctx, cmd.StoreSlug)
	if err != nil {
		return PriceQuote{}, err
	}
	product, err := s.loadProduct(ctx, store.ID, cmd.ProductID)
	if err != nil {
		return PriceQuote{}, err
	}
	if !product.Active {
		return PriceQuote{}, ErrProductNotFound
	}
	return PriceQuote{
		Product:    product,
		Currency:   store.Currency,
		Resolution: s.pricer.Resolve(product.Priced(), cmd.Selection),
	}, nil
}

func (s *productService) ownerStore(ctx context.Context, ownerUID string) (Store, error) {
	owner := strings.TrimSpace(ownerUID)
	if owner == "" {
		return Store{}, fmt.Errorf("%w: owner uid is required", ErrProductInvalidInput)
	}
	store, err := s.stores.FindByOwner(ctx, owner)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("product: load store: %w", err)
	}
	return store, nil
}

func (s *productService) publicStore(ctx context.Context, slug string) (Store, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Store{}, ErrStoreNotFound
	}
	store, err := s.stores.FindBySlug(ctx, slug)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("product: load store: %w", err)
	}
	if store.Status != domain.StoreStatusActive {
		return Store{}, ErrStoreNotFound
	}
	return store, nil
}

func (s *productService) loadProduct(ctx context.Context, storeID, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.Get(ctx, storeID, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("product: get: %w", err)
	}
	return product, nil
}

// productLimit returns the plan's product cap for the store, zero meaning unlimited. The cap is
// enforced by the repository together with the insert.
func (s *productService) productLimit(ctx context.Context, store Store) (int, error) {
	if s.plans == nil || store.PlanID == "" {
		return 0, nil
	}
	plan, err := s.plans.Get(ctx, store.PlanID)
	if err != nil {
		if isRepoNotFound(err) {
			s.log(ctx, "product.plan_missing", map[string]any{"storeId": store.ID, "planId": store.PlanID})
			return 0, nil
		}
		return 0, fmt.Errorf("product: load plan: %w", err)
	}
	if plan.MaxProducts < 0 {
		return 0, nil
	}
	return plan.MaxProducts, nil
}

func (s *productService) renderDescription(raw string) (string, string, error) {
	desc := strings.TrimSpace(raw)
	if runeLen(desc) > maxProductDescLength {
		return "", "", fmt.Errorf("%w: description must be at most %d characters", ErrProductInvalidInput, maxProductDescLength)
	}
	if desc == "" || s.renderer == nil {
		return desc, "", nil
	}
	html, err := s.renderer.Markdown(desc)
	if err != nil {
		return "", "", fmt.Errorf("%w: description could not be rendered", ErrProductInvalidInput)
	}
	return desc, html, nil
}

func (s *productService) recordImpersonated(ctx context.Context, actor ActorContext, store Store, action, productID string) {
	if s.audit == nil || !isImpersonatedActor(actor, store.OwnerUID) {
		return
	}
	if actor.ActorType == "" {
		actor.ActorType = actorTypeStaff
	}
	s.audit.Record(ctx, auditFromActor(actor, AuditLogRecord{
		Action:    action,
		TargetRef: storeTargetRef(store.ID) + "/products/" + productID,
		Severity:  severityInfo,
		Metadata:  map[string]any{"ownerUid": store.OwnerUID, "impersonated": true},
	}))
}

func validateProductName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	if runeLen(name) > maxProductNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrProductInvalidInput, maxProductNameLength)
	}
	return name, nil
}

func validateBasePrice(price int64) error {
	if price < 0 {
		return fmt.Errorf("%w: base price must not be negative", ErrProductInvalidInput)
	}
	if price > maxProductBasePrice {
		return fmt.Errorf("%w: base price is too large", ErrProductInvalidInput)
	}
	return nil
}

func prepareVariantGroups(groups []VariantGroup) ([]VariantGroup, error) {
	normalized := normalizeVariantGroups(groups)
	if err := ValidateVariantGroups(normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
