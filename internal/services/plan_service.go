package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flowix-ar/storefront/internal/repositories"
)

var (
	// ErrPlanInvalidInput signals the caller provided invalid data.
	ErrPlanInvalidInput = errors.New("plan: invalid input")
	// ErrPlanNotFound indicates the plan could not be located.
	ErrPlanNotFound = errors.New("plan: not found")

	planIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,39}$`)
)

// PlanServiceDeps wires the plan service.
type PlanServiceDeps struct {
	Plans  repositories.PlanRepository
	Audit  AuditLogService
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type planService struct {
	plans repositories.PlanRepository
	audit AuditLogService
	now   func() time.Time
	log   eventLogger
}

// NewPlanService constructs a PlanService.
func NewPlanService(deps PlanServiceDeps) (PlanService, error) {
	if deps.Plans == nil {
		return nil, errors.New("plan service: plan repository is required")
	}
	return &planService{
		plans: deps.Plans,
		audit: deps.Audit,
		now:   utcClock(deps.Clock),
		log:   newLogger(deps.Logger),
	}, nil
}

func (s *planService) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	plans, err := s.plans.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("plan: list: %w", err)
	}
	return plans, nil
}

func (s *planService) GetPlan(ctx context.Context, planID string) (Plan, error) {
	id := strings.ToLower(strings.TrimSpace(planID))
	if id == "" {
		return Plan{}, fmt.Errorf("%w: plan id is required", ErrPlanInvalidInput)
	}
	plan, err := s.plans.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("plan: get: %w", err)
	}
	return plan, nil
}

func (s *planService) UpsertPlan(ctx context.Context, cmd UpsertPlanCommand) (Plan, error) {
	plan, err := normalizePlan(cmd.Plan)
	if err != nil {
		return Plan{}, err
	}

	var before *Plan
	existing, err := s.plans.Get(ctx, plan.ID)
	switch {
	case err == nil:
		before = &existing
	case !isRepoNotFound(err):
		return Plan{}, fmt.Errorf("plan: load: %w", err)
	}

	plan.UpdatedAt = s.now()
	if err := s.plans.Upsert(ctx, plan); err != nil {
		return Plan{}, fmt.Errorf("plan: upsert: %w", err)
	}

	if s.audit != nil {
		actor := cmd.Actor
		if actor.ActorType == "" {
			actor.ActorType = actorTypeStaff
		}
		diff := map[string]AuditLogDiff{}
		if before == nil {
			diff["plan"] = AuditLogDiff{After: plan.ID}
		} else {
			if before.PriceMonthly != plan.PriceMonthly {
				diff["priceMonthly"] = AuditLogDiff{Before: before.PriceMonthly, After: plan.PriceMonthly}
			}
			if before.MaxProducts != plan.MaxProducts {
				diff["maxProducts"] = AuditLogDiff{Before: before.MaxProducts, After: plan.MaxProducts}
			}
			if before.Active != plan.Active {
				diff["active"] = AuditLogDiff{Before: before.Active, After: plan.Active}
			}
		}
		s.audit.Record(ctx, auditFromActor(actor, AuditLogRecord{
			Action:    "plan.upsert",
			TargetRef: "/plans/" + plan.ID,
			Severity:  severityInfo,
			Diff:      diff,
		}))
	}
	return plan, nil
}

// SeedPlans upserts every plan and returns how many were written.
func (s *planService) SeedPlans(ctx context.Context, plans []Plan) (int, error) {
	written := 0
	for _, raw := range plans {
		plan, err := normalizePlan(raw)
		if err != nil {
			return written, err
		}
		plan.UpdatedAt = s.now()
		if err := s.plans.Upsert(ctx, plan); err != nil {
			return written, fmt.Errorf("plan: seed %s: %w", plan.ID, err)
		}
		written++
	}
	s.log(ctx, "plan.seeded", map[string]any{"count": written})
	return written, nil
}

func normalizePlan(plan Plan) (Plan, error) {
	plan.ID = strings.ToLower(strings.TrimSpace(plan.ID))
	if !planIDPattern.MatchString(plan.ID) {
		return Plan{}, fmt.Errorf("%w: plan id %q is invalid", ErrPlanInvalidInput, plan.ID)
	}
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		return Plan{}, fmt.Errorf("%w: plan name is required", ErrPlanInvalidInput)
	}
	if plan.PriceMonthly < 0 {
		return Plan{}, fmt.Errorf("%w: price must not be negative", ErrPlanInvalidInput)
	}
	if plan.MaxProducts < 0 {
		return Plan{}, fmt.Errorf("%w: max products must not be negative", ErrPlanInvalidInput)
	}
	code, err := normalizeCurrency(plan.Currency)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: currency %q is invalid", ErrPlanInvalidInput, plan.Currency)
	}
	plan.Currency = code
	features := make([]string, 0, len(plan.Features))
	for _, f := range plan.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	plan.Features = features
	return plan, nil
}
