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
	billingSyncPageSize    = 100
	maxBillingNoteLength   = 500
	subscriptionStoreIDKey = "storeid"
)

var (
	// ErrBillingInvalidInput signals the caller provided invalid data.
	ErrBillingInvalidInput = errors.New("billing: invalid input")
	// ErrBillingNotLinked indicates the store has no Stripe subscription to sync from.
	ErrBillingNotLinked = errors.New("billing: store has no subscription")
	// ErrBillingProviderUnavailable indicates no payment provider is configured.
	ErrBillingProviderUnavailable = errors.New("billing: provider not configured")
	// ErrBillingInvalidWebhook indicates the webhook payload or signature was rejected.
	ErrBillingInvalidWebhook = errors.New("billing: invalid webhook")
)

// BillingServiceDeps wires the billing service.
type BillingServiceDeps struct {
	Stores   repositories.StoreRepository
	Provider BillingProvider
	Audit    AuditLogService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type billingService struct {
	stores   repositories.StoreRepository
	provider BillingProvider
	audit    AuditLogService
	now      func() time.Time
	log      eventLogger
}

// NewBillingService constructs a BillingService. Provider may be nil, which leaves only manual overrides.
func NewBillingService(deps BillingServiceDeps) (BillingService, error) {
	if deps.Stores == nil {
		return nil, errors.New("billing service: store repository is required")
	}
	return &billingService{
		stores:   deps.Stores,
		provider: deps.Provider,
		audit:    deps.Audit,
		now:      utcClock(deps.Clock),
		log:      newLogger(deps.Logger),
	}, nil
}

func (s *billingService) SetBillingState(ctx context.Context, cmd SetBillingStateCommand) (Store, error) {
	id := strings.TrimSpace(cmd.StoreID)
	if id == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrBillingInvalidInput)
	}
	status := BillingStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !status.Valid() {
		return Store{}, fmt.Errorf("%w: unknown status %q", ErrBillingInvalidInput, cmd.Status)
	}
	note := strings.TrimSpace(cmd.Note)
	if runeLen(note) > maxBillingNoteLength {
		return Store{}, fmt.Errorf("%w: note is too long", ErrBillingInvalidInput)
	}
	var paidUntil *time.Time
	if cmd.PaidUntil != nil {
		v := cmd.PaidUntil.UTC()
		paidUntil = &v
	}

	now := s.now()
	actorID := strings.TrimSpace(cmd.Actor.ActorID)
	var before BillingState
	updated, err := s.stores.Mutate(ctx, id, func(store *domain.Store) error {
		before = store.Billing
		store.Billing.Status = status
		store.Billing.PaidUntil = paidUntil
		store.Billing.Note = note
		store.Billing.UpdatedAt = now
		store.Billing.UpdatedBy = actorID
		store.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("billing: set state: %w", err)
	}

	s.record(ctx, cmd.Actor, AuditLogRecord{
		Action:    "billing.state.set",
		TargetRef: storeTargetRef(id),
		Severity:  severityWarn,
		Reason:    note,
		Diff:      billingDiff(before, updated.Billing),
	})
	return updated, nil
}

func (s *billingService) SyncStore(ctx context.Context, storeID string, actor ActorContext) (Store, error) {
	if s.provider == nil {
		return Store{}, ErrBillingProviderUnavailable
	}
	id := strings.TrimSpace(storeID)
	if id == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrBillingInvalidInput)
	}
	store, err := s.stores.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("billing: load store: %w", err)
	}
	subscriptionID := strings.TrimSpace(store.Billing.StripeSubscriptionID)
	if subscriptionID == "" {
		return Store{}, ErrBillingNotLinked
	}
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return Store{}, fmt.Errorf("billing: fetch subscription: %w", err)
	}
	return s.apply(ctx, id, sub, actor, "billing.sync")
}

func (s *billingService) SyncAll(ctx context.Context) (BillingSyncResult, error) {
	if s.provider == nil {
		return BillingSyncResult{}, ErrBillingProviderUnavailable
	}
	var result BillingSyncResult
	token := ""
	for {
		page, err := s.stores.List(ctx, repositories.StoreFilter{
			WithSubscription: true,
			Pagination:       Pagination{PageSize: billingSyncPageSize, PageToken: token},
		})
		if err != nil {
			return result, fmt.Errorf("billing: list stores: %w", err)
		}
		for _, store := range page.Items {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if _, err := s.SyncStore(ctx, store.ID, ActorContext{ActorID: systemActorID, ActorType: actorTypeSystem}); err != nil {
				result.Failed++
				s.log(ctx, "billing.sync_failed", map[string]any{"storeId": store.ID, "error": err.Error()})
				continue
			}
			result.Synced++
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	s.log(ctx, "billing.sync_completed", map[string]any{"synced": result.Synced, "failed": result.Failed})
	return result, nil
}

func (s *billingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return ErrBillingProviderUnavailable
	}
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBillingInvalidWebhook, err)
	}
	if !event.Handled {
		s.log(ctx, "billing.webhook_ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		return nil
	}

	storeID := subscriptionStoreID(event.Subscription)
	if storeID == "" {
		store, err := s.stores.FindBySubscription(ctx, event.Subscription.ID)
		if err != nil {
			if isRepoNotFound(err) {
				s.log(ctx, "billing.webhook_unmatched", map[string]any{"eventId": event.ID, "subscriptionId": event.Subscription.ID})
				return nil
			}
			return fmt.Errorf("billing: find store: %w", err)
		}
		storeID = store.ID
	}

	_, err = s.apply(ctx, storeID, event.Subscription, ActorContext{ActorID: "stripe", ActorType: actorTypeSystem}, "billing.webhook")
	if errors.Is(err, ErrStoreNotFound) {
		s.log(ctx, "billing.webhook_unmatched", map[string]any{"eventId": event.ID, "storeId": storeID})
		return nil
	}
	return err
}

// apply copies the subscription onto the store. Comped stores keep their manual status.
func (s *billingService) apply(ctx context.Context, storeID string, sub Subscription, actor ActorContext, action string) (Store, error) {
	status, known := mapSubscriptionStatus(sub.Status)
	if !known {
		s.log(ctx, "billing.unknown_status", map[string]any{"storeId": storeID, "status": sub.Status})
	}
	now := s.now()
	var before BillingState
	updated, err := s.stores.Mutate(ctx, storeID, func(store *domain.Store) error {
		before = store.Billing
		if sub.ID != "" {
			store.Billing.StripeSubscriptionID = sub.ID
		}
		if sub.CustomerID != "" {
			store.Billing.StripeCustomerID = sub.CustomerID
		}
		if known && store.Billing.Status != domain.BillingStatusComped {
			store.Billing.Status = status
			if !sub.CurrentPeriodEnd.IsZero() {
				end := sub.CurrentPeriodEnd.UTC()
				store.Billing.PaidUntil = &end
			}
		}
		store.Billing.UpdatedAt = now
		store.Billing.UpdatedBy = actor.ActorID
		store.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("billing: apply subscription: %w", err)
	}

	if diff := billingDiff(before, updated.Billing); len(diff) > 0 {
		s.record(ctx, actor, AuditLogRecord{
			Action:    action,
			TargetRef: storeTargetRef(storeID),
			Severity:  severityInfo,
			Diff:      diff,
			Metadata:  map[string]any{"subscriptionId": sub.ID},
		})
	}
	return updated, nil
}

func (s *billingService) record(ctx context.Context, actor ActorContext, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	if actor.ActorType == "" {
		actor.ActorType = actorTypeStaff
	}
	s.audit.Record(ctx, auditFromActor(actor, record))
}

// mapSubscriptionStatus folds Stripe subscription states onto billing statuses.
func mapSubscriptionStatus(status string) (BillingStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return domain.BillingStatusTrialing, true
	case "active":
		return domain.BillingStatusActive, true
	case "past_due", "unpaid", "incomplete", "paused":
		return domain.BillingStatusPastDue, true
	case "canceled", "incomplete_expired":
		return domain.BillingStatusCanceled, true
	}
	return "", false
}

func subscriptionStoreID(sub Subscription) string {
	for key, value := range sub.Metadata {
		if strings.EqualFold(strings.ReplaceAll(key, "_", ""), subscriptionStoreIDKey) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func billingDiff(before, after BillingState) map[string]AuditLogDiff {
	diff := map[string]AuditLogDiff{}
	if before.Status != after.Status {
		diff["status"] = AuditLogDiff{Before: string(before.Status), After: string(after.Status)}
	}
	if !sameTime(before.PaidUntil, after.PaidUntil) {
		diff["paidUntil"] = AuditLogDiff{Before: formatTimePtr(before.PaidUntil), After: formatTimePtr(after.PaidUntil)}
	}
	if before.StripeSubscriptionID != after.StripeSubscriptionID {
		diff["stripeSubscriptionId"] = AuditLogDiff{Before: before.StripeSubscriptionID, After: after.StripeSubscriptionID}
	}
	if before.Note != after.Note {
		diff["note"] = AuditLogDiff{Before: before.Note, After: after.Note}
	}
	return diff
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
