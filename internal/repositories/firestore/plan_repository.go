package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const plansCollection = "plans"

type planDocument struct {
	Name         string    `firestore:"name"`
	PriceMonthly int64     `firestore:"priceMonthly"`
	Currency     string    `firestore:"currency"`
	MaxProducts  int       `firestore:"maxProducts"`
	Features     []string  `firestore:"features,omitempty"`
	Active       bool      `firestore:"active"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// PlanRepository stores the plan catalogue keyed by plan ID.
type PlanRepository struct {
	plans *pfirestore.Collection[planDocument]
}

var _ repositories.PlanRepository = (*PlanRepository)(nil)

// NewPlanRepository constructs a Firestore-backed plan repository.
func NewPlanRepository(provider *pfirestore.Provider) (*PlanRepository, error) {
	if provider == nil {
		return nil, errors.New("plan repository requires firestore provider")
	}
	return &PlanRepository{plans: pfirestore.NewCollection[planDocument](provider, plansCollection)}, nil
}

func (r *PlanRepository) Get(ctx context.Context, planID string) (domain.Plan, error) {
	if r == nil || r.plans == nil {
		return domain.Plan{}, errNotInitialised
	}
	doc, err := r.plans.Get(ctx, planID)
	if err != nil {
		return domain.Plan{}, err
	}
	return toDomainPlan(doc), nil
}

// List returns plans ordered by monthly price.
func (r *PlanRepository) List(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	if r == nil || r.plans == nil {
		return nil, errNotInitialised
	}
	docs, err := r.plans.Query(ctx, func(q firestore.Query) firestore.Query {
		if activeOnly {
			q = q.Where("active", "==", true)
		}
		return q.OrderBy("priceMonthly", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	plans := make([]domain.Plan, 0, len(docs))
	for _, doc := range docs {
		plans = append(plans, toDomainPlan(doc))
	}
	return plans, nil
}

func (r *PlanRepository) Upsert(ctx context.Context, plan domain.Plan) error {
	if r == nil || r.plans == nil {
		return errNotInitialised
	}
	_, err := r.plans.Set(ctx, planDocument{
		Name:         plan.Name,
		PriceMonthly: plan.PriceMonthly,
		Currency:     plan.Currency,
		MaxProducts:  plan.MaxProducts,
		Features:     plan.Features,
		Active:       plan.Active,
		UpdatedAt:    plan.UpdatedAt.UTC(),
	}, plan.ID)
	return err
}

func toDomainPlan(doc pfirestore.Document[planDocument]) domain.Plan {
	d := doc.Data
	return domain.Plan{
		ID:           doc.ID,
		Name:         d.Name,
		PriceMonthly: d.PriceMonthly,
		Currency:     d.Currency,
		MaxProducts:  d.MaxProducts,
		Features:     d.Features,
		Active:       d.Active,
		UpdatedAt:    d.UpdatedAt,
	}
}
