package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/platform/whatsapp"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	defaultStoreLocale     = "es-AR"
	defaultStoreCurrency   = "ARS"
	defaultTrialPeriod     = 14 * 24 * time.Hour
	maxStoreNameLength     = 80
	maxStoreDescLength     = 500
	maxModerationReasonLen = 500
)

var (
	// ErrStoreInvalidInput signals the caller provided invalid data.
	ErrStoreInvalidInput = errors.New("store: invalid input")
	// ErrStoreNotFound indicates the store could not be located or is not public.
	ErrStoreNotFound = errors.New("store: not found")
	// ErrStoreSlugTaken indicates another store already uses the slug.
	ErrStoreSlugTaken = errors.New("store: slug already taken")
	// ErrStoreAlreadyExists indicates the owner already has a store.
	ErrStoreAlreadyExists = errors.New("store: owner already has a store")
	// ErrStorePlanNotFound indicates the referenced plan does not exist or is inactive.
	ErrStorePlanNotFound = errors.New("store: plan not found")
	// ErrStoreInvalidState indicates the moderation action does not apply to the current status.
	ErrStoreInvalidState = errors.New("store: invalid state")
)

var (
	storeSlugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,38}[a-z0-9])$`)
	reservedSlugs    = map[string]struct{}{
		"admin": {}, "api": {}, "app": {}, "www": {}, "static": {}, "assets": {},
		"help": {}, "soporte": {}, "login": {}, "signup": {}, "flowix": {}, "internal": {},
	}
)

// TextSanitizer strips markup from merchant supplied text.
type TextSanitizer interface {
	PlainText(s string) string
}

// StoreServiceDeps wires the store service.
type StoreServiceDeps struct {
	Stores        repositories.StoreRepository
	Plans         repositories.PlanRepository
	Users         repositories.UserRepository
	Text          TextSanitizer
	Audit         AuditLogService
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	DefaultPlanID string
	TrialPeriod   time.Duration
}

type storeService struct {
	stores        repositories.StoreRepository
	plans         repositories.PlanRepository
	users         repositories.UserRepository
	text          TextSanitizer
	audit         AuditLogService
	now           func() time.Time
	newID         func() string
	log           eventLogger
	defaultPlanID string
	trialPeriod   time.Duration
}

// NewStoreService constructs a StoreService.
func NewStoreService(deps StoreServiceDeps) (StoreService, error) {
	if deps.Stores == nil {
		return nil, errors.New("store service: store repository is required")
	}
	if deps.Plans == nil {
		return nil, errors.New("store service: plan repository is required")
	}
	planID := strings.ToLower(strings.TrimSpace(deps.DefaultPlanID))
	if planID == "" {
		return nil, errors.New("store service: default plan id is required")
	}
	trial := deps.TrialPeriod
	if trial <= 0 {
		trial = defaultTrialPeriod
	}
	return &storeService{
		stores:        deps.Stores,
		plans:         deps.Plans,
		users:         deps.Users,
		text:          deps.Text,
		audit:         deps.Audit,
		now:           utcClock(deps.Clock),
		newID:         idGenerator(deps.IDGenerator),
		log:           newLogger(deps.Logger),
		defaultPlanID: planID,
		trialPeriod:   trial,
	}, nil
}

func (s *storeService) CreateStore(ctx context.Context, cmd CreateStoreCommand) (Store, error) {
	owner := strings.TrimSpace(cmd.OwnerUID)
	if owner == "" {
		return Store{}, fmt.Errorf("%w: owner uid is required", ErrStoreInvalidInput)
	}
	slug := strings.ToLower(strings.TrimSpace(cmd.Slug))
	if err := validateStoreSlug(slug); err != nil {
		return Store{}, err
	}
	name, err := s.storeName(cmd.Name)
	if err != nil {
		return Store{}, err
	}
	description, err := s.storeDescription(cmd.Description)
	if err != nil {
		return Store{}, err
	}
	number, err := whatsapp.NormalizeNumber(cmd.WhatsAppNumber)
	if err != nil {
		return Store{}, fmt.Errorf("%w: whatsapp number must have 8 to 15 digits", ErrStoreInvalidInput)
	}
	code, err := normalizeCurrency(cmd.Currency)
	if err != nil {
		return Store{}, err
	}
	locale, err := normalizeLocale(cmd.Locale)
	if err != nil {
		return Store{}, err
	}

	if _, err := s.activePlan(ctx, s.defaultPlanID); err != nil {
		return Store{}, err
	}

	now := s.now()
	paidUntil := now.Add(s.trialPeriod)
	store := Store{
		ID:             s.newID(),
		OwnerUID:       owner,
		Slug:           slug,
		Name:           name,
		Description:    description,
		WhatsAppNumber: number,
		Currency:       code,
		Locale:         locale,
		LogoURL:        strings.TrimSpace(cmd.LogoURL),
		Status:         domain.StoreStatusActive,
		PlanID:         s.defaultPlanID,
		Billing: BillingState{
			Status:    domain.BillingStatusTrialing,
			PaidUntil: &paidUntil,
			UpdatedAt: now,
			UpdatedBy: systemActorID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.stores.Create(ctx, store); err != nil {
		switch {
		case errors.Is(err, repositories.ErrStoreSlugTaken):
			return Store{}, ErrStoreSlugTaken
		case errors.Is(err, repositories.ErrStoreOwnerExists):
			return Store{}, ErrStoreAlreadyExists
		case isRepoConflict(err):
			return Store{}, ErrStoreSlugTaken
		}
		return Store{}, fmt.Errorf("store: create: %w", err)
	}

	s.linkOwnerProfile(ctx, owner, store.ID, now)
	s.log(ctx, "store.created", map[string]any{"storeId": store.ID, "slug": slug, "ownerUid": owner})
	s.recordImpersonated(ctx, cmd.Actor, owner, "store.create", store.ID, nil)
	return store, nil
}

func (s *storeService) GetMyStore(ctx context.Context, ownerUID string) (Store, error) {
	owner := strings.TrimSpace(ownerUID)
	if owner == "" {
		return Store{}, fmt.Errorf("%w: owner uid is required", ErrStoreInvalidInput)
	}
	store, err := s.stores.FindByOwner(ctx, owner)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: find by owner: %w", err)
	}
	return store, nil
}

func (s *storeService) UpdateMyStore(ctx context.Context, cmd UpdateStoreCommand) (Store, error) {
	current, err := s.GetMyStore(ctx, cmd.OwnerUID)
	if err != nil {
		return Store{}, err
	}

	var (
		name, description, number, locale string
	)
	if cmd.Name != nil {
		if name, err = s.storeName(*cmd.Name); err != nil {
			return Store{}, err
		}
	}
	if cmd.Description != nil {
		if description, err = s.storeDescription(*cmd.Description); err != nil {
			return Store{}, err
		}
	}
	if cmd.WhatsAppNumber != nil {
		if number, err = whatsapp.NormalizeNumber(*cmd.WhatsAppNumber); err != nil {
			return Store{}, fmt.Errorf("%w: whatsapp number must have 8 to 15 digits", ErrStoreInvalidInput)
		}
	}
	if cmd.Locale != nil {
		if locale, err = normalizeLocale(*cmd.Locale); err != nil {
			return Store{}, err
		}
	}

	now := s.now()
	diff := map[string]AuditLogDiff{}
	updated, err := s.stores.Mutate(ctx, current.ID, func(store *domain.Store) error {
		if cmd.Name != nil && store.Name != name {
			diff["name"] = AuditLogDiff{Before: store.Name, After: name}
			store.Name = name
		}
		if cmd.Description != nil && store.Description != description {
			diff["description"] = AuditLogDiff{Before: store.Description, After: description}
			store.Description = description
		}
		if cmd.WhatsAppNumber != nil && store.WhatsAppNumber != number {
			diff["whatsappNumber"] = AuditLogDiff{Before: store.WhatsAppNumber, After: number}
			store.WhatsAppNumber = number
		}
		if cmd.Locale != nil && store.Locale != locale {
			diff["locale"] = AuditLogDiff{Before: store.Locale, After: locale}
			store.Locale = locale
		}
		if cmd.LogoURL != nil {
			logo := strings.TrimSpace(*cmd.LogoURL)
			if store.LogoURL != logo {
				diff["logoUrl"] = AuditLogDiff{Before: store.LogoURL, After: logo}
				store.LogoURL = logo
			}
		}
		store.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: update: %w", err)
	}
	if len(diff) > 0 {
		s.recordImpersonated(ctx, cmd.Actor, current.OwnerUID, "store.update", current.ID, diff)
	}
	return updated, nil
}

func (s *storeService) GetPublicStore(ctx context.Context, slug string) (Store, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Store{}, ErrStoreNotFound
	}
	store, err := s.stores.FindBySlug(ctx, slug)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: find by slug: %w", err)
	}
	if store.Status != domain.StoreStatusActive {
		return Store{}, ErrStoreNotFound
	}
	return store, nil
}

func (s *storeService) ListStores(ctx context.Context, filter StoreListFilter) (domain.CursorPage[Store], error) {
	status := StoreStatus(strings.ToLower(strings.TrimSpace(string(filter.Status))))
	switch status {
	case "", domain.StoreStatusActive, domain.StoreStatusSuspended:
	default:
		return domain.CursorPage[Store]{}, fmt.Errorf("%w: unknown status %q", ErrStoreInvalidInput, filter.Status)
	}
	page, err := s.stores.List(ctx, repositories.StoreFilter{
		Status:     status,
		PlanID:     strings.ToLower(strings.TrimSpace(filter.PlanID)),
		NamePrefix: textutil.SearchKey(filter.Query),
		Pagination: clampPage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[Store]{}, fmt.Errorf("store: list: %w", err)
	}
	return page, nil
}

func (s *storeService) GetStore(ctx context.Context, storeID string) (Store, error) {
	id := strings.TrimSpace(storeID)
	if id == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrStoreInvalidInput)
	}
	store, err := s.stores.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: get: %w", err)
	}
	return store, nil
}

func (s *storeService) SuspendStore(ctx context.Context, cmd StoreModerationCommand) (Store, error) {
	return s.moderate(ctx, cmd, domain.StoreStatusSuspended, "store.suspend")
}

func (s *storeService) ReactivateStore(ctx context.Context, cmd StoreModerationCommand) (Store, error) {
	return s.moderate(ctx, cmd, domain.StoreStatusActive, "store.reactivate")
}

func (s *storeService) moderate(ctx context.Context, cmd StoreModerationCommand, target StoreStatus, action string) (Store, error) {
	id := strings.TrimSpace(cmd.StoreID)
	if id == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrStoreInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Store{}, fmt.Errorf("%w: reason is required", ErrStoreInvalidInput)
	}
	if runeLen(reason) > maxModerationReasonLen {
		return Store{}, fmt.Errorf("%w: reason is too long", ErrStoreInvalidInput)
	}

	now := s.now()
	var before StoreStatus
	updated, err := s.stores.Mutate(ctx, id, func(store *domain.Store) error {
		if store.Status == target {
			return ErrStoreInvalidState
		}
		before = store.Status
		store.Status = target
		if target == domain.StoreStatusSuspended {
			store.SuspendedReason = reason
		} else {
			store.SuspendedReason = ""
		}
		store.UpdatedAt = now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStoreInvalidState):
			return Store{}, fmt.Errorf("%w: store is already %s", ErrStoreInvalidState, target)
		case isRepoNotFound(err):
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: %s: %w", action, err)
	}

	s.recordAdmin(ctx, cmd.Actor, AuditLogRecord{
		Action:    action,
		TargetRef: storeTargetRef(id),
		Severity:  severityWarn,
		Reason:    reason,
		Diff:      map[string]AuditLogDiff{"status": {Before: string(before), After: string(target)}},
	})
	return updated, nil
}

func (s *storeService) ChangePlan(ctx context.Context, cmd ChangePlanCommand) (Store, error) {
	id := strings.TrimSpace(cmd.StoreID)
	if id == "" {
		return Store{}, fmt.Errorf("%w: store id is required", ErrStoreInvalidInput)
	}
	planID := strings.ToLower(strings.TrimSpace(cmd.PlanID))
	if planID == "" {
		return Store{}, fmt.Errorf("%w: plan id is required", ErrStoreInvalidInput)
	}
	if _, err := s.activePlan(ctx, planID); err != nil {
		return Store{}, err
	}

	now := s.now()
	var before string
	updated, err := s.stores.Mutate(ctx, id, func(store *domain.Store) error {
		before = store.PlanID
		store.PlanID = planID
		store.UpdatedAt = now
		return nil
	})
	if err != nil {
		if isRepoNotFound(err) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("store: change plan: %w", err)
	}

	s.recordAdmin(ctx, cmd.Actor, AuditLogRecord{
		Action:    "store.plan.change",
		TargetRef: storeTargetRef(id),
		Severity:  severityInfo,
		Reason:    strings.TrimSpace(cmd.Reason),
		Diff:      map[string]AuditLogDiff{"planId": {Before: before, After: planID}},
	})
	return updated, nil
}

func (s *storeService) activePlan(ctx context.Context, planID string) (Plan, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		if isRepoNotFound(err) {
			return Plan{}, fmt.Errorf("%w: %s", ErrStorePlanNotFound, planID)
		}
		return Plan{}, fmt.Errorf("store: load plan: %w", err)
	}
	if !plan.Active {
		return Plan{}, fmt.Errorf("%w: %s is inactive", ErrStorePlanNotFound, planID)
	}
	return plan, nil
}

func (s *storeService) storeName(raw string) (string, error) {
	name := s.plain(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrStoreInvalidInput)
	}
	if runeLen(name) > maxStoreNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrStoreInvalidInput, maxStoreNameLength)
	}
	return name, nil
}

func (s *storeService) storeDescription(raw string) (string, error) {
	desc := s.plain(raw)
	if runeLen(desc) > maxStoreDescLength {
		return "", fmt.Errorf("%w: description must be at most %d characters", ErrStoreInvalidInput, maxStoreDescLength)
	}
	return desc, nil
}

func (s *storeService) plain(raw string) string {
	if s.text == nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(s.text.PlainText(raw))
}

// linkOwnerProfile stores the new store id on the owner's profile. Failures are logged only.
func (s *storeService) linkOwnerProfile(ctx context.Context, ownerUID, storeID string, now time.Time) {
	if s.users == nil {
		return
	}
	profile, err := s.users.Get(ctx, ownerUID)
	if err != nil {
		if !isRepoNotFound(err) {
			s.log(ctx, "store.owner_profile.load_failed", map[string]any{"ownerUid": ownerUID, "error": err.Error()})
			return
		}
		profile = UserProfile{ID: ownerUID, Role: domain.UserRoleMerchant, CreatedAt: now}
	}
	profile.StoreID = storeID
	profile.UpdatedAt = now
	if err := s.users.Upsert(ctx, profile); err != nil {
		s.log(ctx, "store.owner_profile.update_failed", map[string]any{"ownerUid": ownerUID, "error": err.Error()})
	}
}

func (s *storeService) recordAdmin(ctx context.Context, actor ActorContext, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	if actor.ActorType == "" {
		actor.ActorType = actorTypeStaff
	}
	s.audit.Record(ctx, auditFromActor(actor, record))
}

// recordImpersonated audits merchant mutations performed by someone other than the owner.
func (s *storeService) recordImpersonated(ctx context.Context, actor ActorContext, ownerUID, action, storeID string, diff map[string]AuditLogDiff) {
	if !isImpersonatedActor(actor, ownerUID) {
		return
	}
	s.recordAdmin(ctx, actor, AuditLogRecord{
		Action:    action,
		TargetRef: storeTargetRef(storeID),
		Severity:  severityInfo,
		Diff:      diff,
		Metadata:  map[string]any{"ownerUid": ownerUID, "impersonated": true},
	})
}

func isImpersonatedActor(actor ActorContext, ownerUID string) bool {
	id := strings.TrimSpace(actor.ActorID)
	return id != "" && id != strings.TrimSpace(ownerUID)
}

func storeTargetRef(storeID string) string {
	return "/stores/" + storeID
}

func validateStoreSlug(slug string) error {
	if !storeSlugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug must be 3 to 40 lowercase letters, digits or hyphens", ErrStoreInvalidInput)
	}
	if strings.Contains(slug, "--") {
		return fmt.Errorf("%w: slug must not contain consecutive hyphens", ErrStoreInvalidInput)
	}
	if _, reserved := reservedSlugs[slug]; reserved {
		return fmt.Errorf("%w: slug %q is reserved", ErrStoreSlugTaken, slug)
	}
	return nil
}

func normalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return defaultStoreCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrStoreInvalidInput, raw)
	}
	return unit.String(), nil
}

func normalizeLocale(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultStoreLocale, nil
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: invalid locale %q", ErrStoreInvalidInput, raw)
	}
	return tag.String(), nil
}
