package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/richtext"
)

var storeTestNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStoreService(t *testing.T, stores *memStoreRepo, users *memUserRepo, audit *captureAudit) StoreService {
	t.Helper()
	plans := newMemPlanRepo(
		domain.Plan{ID: "free", Name: "Free", Currency: "ARS", MaxProducts: 10, Active: true},
		domain.Plan{ID: "pro", Name: "Pro", Currency: "ARS", Active: true},
		domain.Plan{ID: "legacy", Name: "Legacy", Currency: "ARS", Active: false},
	)
	svc, err := NewStoreService(StoreServiceDeps{
		Stores:        stores,
		Plans:         plans,
		Users:         users,
		Text:          richtext.NewRenderer(),
		Audit:         audit,
		Clock:         fixedClock(storeTestNow),
		IDGenerator:   sequentialIDs("store-"),
		DefaultPlanID: "free",
		TrialPeriod:   7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewStoreService: %v", err)
	}
	return svc
}

func validCreateStore() CreateStoreCommand {
	return CreateStoreCommand{
		OwnerUID:       "owner-1",
		Slug:           " Dulce-Lola ",
		Name:           "<b>Dulce Lola</b>",
		Description:    "Tortas caseras",
		WhatsAppNumber: "+54 9 11 5555-1234",
		Locale:         "es-ar",
		Actor:          ActorContext{ActorID: "owner-1"},
	}
}

func TestStoreServiceCreateStore(t *testing.T) {
	stores := newMemStoreRepo()
	users := newMemUserRepo()
	audit := &captureAudit{}
	svc := newTestStoreService(t, stores, users, audit)

	store, err := svc.CreateStore(context.Background(), validCreateStore())
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if store.ID != "store-1" || store.Slug != "dulce-lola" {
		t.Fatalf("unexpected identity %s %s", store.ID, store.Slug)
	}
	if store.Name != "Dulce Lola" {
		t.Fatalf("expected markup stripped from name, got %q", store.Name)
	}
	if store.WhatsAppNumber != "5491155551234" {
		t.Fatalf("unexpected whatsapp number %q", store.WhatsAppNumber)
	}
	if store.Currency != "ARS" || store.Locale != "es-AR" {
		t.Fatalf("unexpected currency/locale %s %s", store.Currency, store.Locale)
	}
	if store.Status != domain.StoreStatusActive || store.PlanID != "free" {
		t.Fatalf("unexpected status/plan %s %s", store.Status, store.PlanID)
	}
	if store.Billing.Status != domain.BillingStatusTrialing {
		t.Fatalf("expected trialing billing, got %s", store.Billing.Status)
	}
	if store.Billing.PaidUntil == nil || !store.Billing.PaidUntil.Equal(storeTestNow.Add(7*24*time.Hour)) {
		t.Fatalf("unexpected paid until %v", store.Billing.PaidUntil)
	}
	profile, err := users.Get(context.Background(), "owner-1")
	if err != nil || profile.StoreID != "store-1" {
		t.Fatalf("expected owner profile linked to store, got %+v err=%v", profile, err)
	}
	if len(audit.records) != 0 {
		t.Fatalf("owner actions should not be audited, got %v", audit.actions())
	}
}

func TestStoreServiceCreateStoreValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateStoreCommand)
		want   error
	}{
		{name: "short slug", mutate: func(c *CreateStoreCommand) { c.Slug = "ab" }, want: ErrStoreInvalidInput},
		{name: "trailing hyphen", mutate: func(c *CreateStoreCommand) { c.Slug = "tienda-" }, want: ErrStoreInvalidInput},
		{name: "double hyphen", mutate: func(c *CreateStoreCommand) { c.Slug = "mi--tienda" }, want: ErrStoreInvalidInput},
		{name: "reserved slug", mutate: func(c *CreateStoreCommand) { c.Slug = "admin" }, want: ErrStoreSlugTaken},
		{name: "missing name", mutate: func(c *CreateStoreCommand) { c.Name = "  " }, want: ErrStoreInvalidInput},
		{name: "short number", mutate: func(c *CreateStoreCommand) { c.WhatsAppNumber = "1234" }, want: ErrStoreInvalidInput},
		{name: "unknown currency", mutate: func(c *CreateStoreCommand) { c.Currency = "XYZ1" }, want: ErrStoreInvalidInput},
		{name: "bad locale", mutate: func(c *CreateStoreCommand) { c.Locale = "not a locale!" }, want: ErrStoreInvalidInput},
		{name: "missing owner", mutate: func(c *CreateStoreCommand) { c.OwnerUID = "" }, want: ErrStoreInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestStoreService(t, newMemStoreRepo(), newMemUserRepo(), &captureAudit{})
			cmd := validCreateStore()
			tc.mutate(&cmd)
			if _, err := svc.CreateStore(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStoreServiceCreateStoreConflicts(t *testing.T) {
	stores := newMemStoreRepo(domain.Store{ID: "existing", OwnerUID: "owner-9", Slug: "dulce-lola", Status: domain.StoreStatusActive})
	svc := newTestStoreService(t, stores, newMemUserRepo(), &captureAudit{})

	if _, err := svc.CreateStore(context.Background(), validCreateStore()); !errors.Is(err, ErrStoreSlugTaken) {
		t.Fatalf("expected slug taken, got %v", err)
	}

	cmd := validCreateStore()
	cmd.OwnerUID = "owner-9"
	cmd.Slug = "otra-tienda"
	if _, err := svc.CreateStore(context.Background(), cmd); !errors.Is(err, ErrStoreAlreadyExists) {
		t.Fatalf("expected owner conflict, got %v", err)
	}
}

func TestStoreServiceGetPublicStoreHidesSuspended(t *testing.T) {
	stores := newMemStoreRepo(
		domain.Store{ID: "s1", OwnerUID: "o1", Slug: "abierta", Status: domain.StoreStatusActive},
		domain.Store{ID: "s2", OwnerUID: "o2", Slug: "cerrada", Status: domain.StoreStatusSuspended},
	)
	svc := newTestStoreService(t, stores, newMemUserRepo(), &captureAudit{})

	if _, err := svc.GetPublicStore(context.Background(), "ABIERTA"); err != nil {
		t.Fatalf("expected active store, got %v", err)
	}
	if _, err := svc.GetPublicStore(context.Background(), "cerrada"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected suspended store hidden, got %v", err)
	}
	if _, err := svc.GetPublicStore(context.Background(), "nada"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreServiceUpdateMyStoreAuditsImpersonation(t *testing.T) {
	stores := newMemStoreRepo(domain.Store{ID: "s1", OwnerUID: "owner-1", Slug: "tienda", Name: "Vieja", Status: domain.StoreStatusActive})
	audit := &captureAudit{}
	svc := newTestStoreService(t, stores, newMemUserRepo(), audit)

	name := "Nueva"
	updated, err := svc.UpdateMyStore(context.Background(), UpdateStoreCommand{
		OwnerUID: "owner-1",
		Name:     &name,
		Actor:    ActorContext{ActorID: "admin-1", RequestID: "req-1"},
	})
	if err != nil {
		t.Fatalf("UpdateMyStore: %v", err)
	}
	if updated.Name != "Nueva" || updated.Slug != "tienda" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if len(audit.records) != 1 {
		t.Fatalf("expected impersonated update audited, got %v", audit.actions())
	}
	rec := audit.records[0]
	if rec.Action != "store.update" || rec.Actor != "admin-1" || rec.ActorType != actorTypeStaff || rec.RequestID != "req-1" {
		t.Fatalf("unexpected audit record %+v", rec)
	}
	if diff := rec.Diff["name"]; diff.Before != "Vieja" || diff.After != "Nueva" {
		t.Fatalf("unexpected diff %+v", rec.Diff)
	}
}

func TestStoreServiceSuspendAndReactivate(t *testing.T) {
	stores := newMemStoreRepo(domain.Store{ID: "s1", OwnerUID: "owner-1", Slug: "tienda", Status: domain.StoreStatusActive})
	audit := &captureAudit{}
	svc := newTestStoreService(t, stores, newMemUserRepo(), audit)
	ctx := context.Background()
	admin := ActorContext{ActorID: "admin-1"}

	if _, err := svc.SuspendStore(ctx, StoreModerationCommand{StoreID: "s1", Actor: admin}); !errors.Is(err, ErrStoreInvalidInput) {
		t.Fatalf("expected reason required, got %v", err)
	}
	suspended, err := svc.SuspendStore(ctx, StoreModerationCommand{StoreID: "s1", Reason: "fraude", Actor: admin})
	if err != nil {
		t.Fatalf("SuspendStore: %v", err)
	}
	if suspended.Status != domain.StoreStatusSuspended || suspended.SuspendedReason != "fraude" {
		t.Fatalf("unexpected suspended store %+v", suspended)
	}
	if _, err := svc.SuspendStore(ctx, StoreModerationCommand{StoreID: "s1", Reason: "again", Actor: admin}); !errors.Is(err, ErrStoreInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	reactivated, err := svc.ReactivateStore(ctx, StoreModerationCommand{StoreID: "s1", Reason: "resuelto", Actor: admin})
	if err != nil {
		t.Fatalf("ReactivateStore: %v", err)
	}
	if reactivated.Status != domain.StoreStatusActive || reactivated.SuspendedReason != "" {
		t.Fatalf("unexpected reactivated store %+v", reactivated)
	}
	if _, err := svc.SuspendStore(ctx, StoreModerationCommand{StoreID: "missing", Reason: "x", Actor: admin}); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	actions := audit.actions()
	if len(actions) != 2 || actions[0] != "store.suspend" || actions[1] != "store.reactivate" {
		t.Fatalf("unexpected audit actions %v", actions)
	}
	if audit.records[0].Reason != "fraude" || audit.records[0].Severity != severityWarn {
		t.Fatalf("unexpected suspend audit %+v", audit.records[0])
	}
}

func TestStoreServiceChangePlan(t *testing.T) {
	stores := newMemStoreRepo(domain.Store{ID: "s1", OwnerUID: "owner-1", Slug: "tienda", PlanID: "free", Status: domain.StoreStatusActive})
	audit := &captureAudit{}
	svc := newTestStoreService(t, stores, newMemUserRepo(), audit)
	ctx := context.Background()

	if _, err := svc.ChangePlan(ctx, ChangePlanCommand{StoreID: "s1", PlanID: "legacy"}); !errors.Is(err, ErrStorePlanNotFound) {
		t.Fatalf("expected inactive plan rejected, got %v", err)
	}
	if _, err := svc.ChangePlan(ctx, ChangePlanCommand{StoreID: "s1", PlanID: "gold"}); !errors.Is(err, ErrStorePlanNotFound) {
		t.Fatalf("expected unknown plan rejected, got %v", err)
	}
	store, err := svc.ChangePlan(ctx, ChangePlanCommand{StoreID: "s1", PlanID: "PRO", Actor: ActorContext{ActorID: "admin"}})
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if store.PlanID != "pro" {
		t.Fatalf("expected plan pro, got %s", store.PlanID)
	}
	if len(audit.records) != 1 || audit.records[0].Diff["planId"].Before != "free" {
		t.Fatalf("unexpected audit %+v", audit.records)
	}
}

func TestStoreServiceListStoresNormalisesQuery(t *testing.T) {
	stores := newMemStoreRepo(
		domain.Store{ID: "s1", Name: "Panadería Sol", Status: domain.StoreStatusActive},
	)
	svc := newTestStoreService(t, stores, newMemUserRepo(), &captureAudit{})

	if _, err := svc.ListStores(context.Background(), StoreListFilter{Query: "  PANADERÍA ", Pagination: Pagination{PageSize: 500}}); err != nil {
		t.Fatalf("ListStores: %v", err)
	}
	if stores.lastList.NamePrefix != "panaderia" {
		t.Fatalf("expected normalised prefix, got %q", stores.lastList.NamePrefix)
	}
	if stores.lastList.Pagination.PageSize != maxListLimit {
		t.Fatalf("expected page size clamped, got %d", stores.lastList.Pagination.PageSize)
	}
	if _, err := svc.ListStores(context.Background(), StoreListFilter{Status: "closed"}); !errors.Is(err, ErrStoreInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestNewStoreServiceRequiresDependencies(t *testing.T) {
	if _, err := NewStoreService(StoreServiceDeps{}); err == nil {
		t.Fatal("expected error without repositories")
	}
	if _, err := NewStoreService(StoreServiceDeps{Stores: newMemStoreRepo(), Plans: newMemPlanRepo()}); err == nil {
		t.Fatal("expected error without default plan")
	}
}
