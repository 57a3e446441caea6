//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/flowix-ar/storefront/internal/platform/config"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
)

type counterDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "flowix-test", EmulatorHost: host})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestNestedCollectionRoundTrip(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll := pfirestore.NewCollection[counterDoc](provider, "stores", "counters")
	storeID := "store-" + time.Now().UTC().Format("150405.000000000")

	if _, err := coll.Create(ctx, counterDoc{Name: "orders", Count: 1}, "orders", storeID); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := coll.Create(ctx, counterDoc{Name: "orders"}, "orders", storeID); !pfirestore.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	ref, err := coll.Doc(ctx, "orders", storeID)
	if err != nil {
		t.Fatalf("doc ref: %v", err)
	}
	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[counterDoc](snap)
		if err != nil {
			return err
		}
		doc.Data.Count++
		return tx.Set(ref, doc.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err := coll.Get(ctx, "orders", storeID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Count != 2 {
		t.Fatalf("expected count 2, got %d", doc.Data.Count)
	}

	docs, err := coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", "orders")
	}, storeID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("query returned %d docs, err %v", len(docs), err)
	}

	if _, err := coll.Get(ctx, "missing", storeID); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
