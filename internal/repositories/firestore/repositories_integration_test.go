//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pconfig "github.com/flowix-ar/storefront/internal/platform/config"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func newIntegrationProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestOrderRepositoryNumbersConcurrently(t *testing.T) {
	provider := newIntegrationProvider(t, "orders-test")
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			order := domain.Order{
				ID:        fmt.Sprintf("o-%02d", idx),
				StoreID:   "s1",
				Status:    domain.OrderStatusPending,
				CreatedAt: time.Now().UTC(),
			}
			created, err := repo.Create(ctx, order, func(o *domain.Order) error {
				o.WhatsAppURL = fmt.Sprintf("https://wa.me/5491100000000?text=%d", o.Number)
				return nil
			})
			if err != nil {
				t.Errorf("create(%d): %v", idx, err)
				return
			}
			results[idx] = created.Number
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}

	failing := domain.Order{ID: "o-fail", StoreID: "s1", CreatedAt: time.Now().UTC()}
	boom := errors.New("link failed")
	if _, err := repo.Create(ctx, failing, func(*domain.Order) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected finalize error, got %v", err)
	}
	next, err := repo.Create(ctx, domain.Order{ID: "o-next", StoreID: "s1", CreatedAt: time.Now().UTC()}, nil)
	if err != nil {
		t.Fatalf("create after failure: %v", err)
	}
	if next.Number != workers+1 {
		t.Fatalf("expected aborted create to leave no gap, got %d", next.Number)
	}

	page, err := repo.List(ctx, repositories.OrderFilter{StoreID: "s1", Pagination: domain.Pagination{PageSize: 5}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 5 || page.NextPageToken == "" {
		t.Fatalf("expected a full first page with a token, got %d items token=%q", len(page.Items), page.NextPageToken)
	}
}

func TestProductRepositoryLimitUnderConcurrency(t *testing.T) {
	provider := newIntegrationProvider(t, "products-test")
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// A product written before the counter existed is picked up when the counter is seeded.
	now := time.Now().UTC()
	legacy := fromDomainProduct(domain.Product{ID: "legacy", StoreID: "s1", Name: "Vieja", CreatedAt: now, UpdatedAt: now})
	if _, err := repo.products.Create(ctx, legacy, "legacy", "s1"); err != nil {
		t.Fatalf("seed legacy product: %v", err)
	}

	const (
		workers = 10
		limit   = 4
	)
	var created, limited int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			product := domain.Product{ID: fmt.Sprintf("p-%02d", idx), StoreID: "s1", Name: "Torta", Active: true, CreatedAt: now, UpdatedAt: now}
			err := repo.Create(ctx, product, limit)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, repositories.ErrProductLimitReached):
				limited++
			default:
				t.Errorf("create(%d): %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	if created != limit-1 || limited != workers-created {
		t.Fatalf("expected %d creates within the limit, got created=%d limited=%d", limit-1, created, limited)
	}

	if err := repo.Delete(ctx, "s1", "legacy"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "s1", "legacy"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := repo.Create(ctx, domain.Product{ID: "after-delete", StoreID: "s1", Name: "Alfajor", CreatedAt: now, UpdatedAt: now}, limit); err != nil {
		t.Fatalf("expected freed slot, got %v", err)
	}
}

func TestStoreRepositoryReservations(t *testing.T) {
	provider := newIntegrationProvider(t, "stores-test")
	repo, err := NewStoreRepository(provider)
	if err != nil {
		t.Fatalf("new store repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	store := domain.Store{ID: "s1", OwnerUID: "u1", Slug: "tortas", Name: "Tortas Ana", Status: domain.StoreStatusActive, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, store); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, domain.Store{ID: "s2", OwnerUID: "u2", Slug: "tortas"}); !errors.Is(err, repositories.ErrStoreSlugTaken) {
		t.Fatalf("expected slug taken, got %v", err)
	}
	if err := repo.Create(ctx, domain.Store{ID: "s3", OwnerUID: "u1", Slug: "otra"}); !errors.Is(err, repositories.ErrStoreOwnerExists) {
		t.Fatalf("expected owner exists, got %v", err)
	}

	found, err := repo.FindBySlug(ctx, "Tortas")
	if err != nil || found.ID != "s1" {
		t.Fatalf("find by slug: %+v %v", found, err)
	}
	if _, err := repo.FindByOwner(ctx, "u9"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	page, err := repo.List(ctx, repositories.StoreFilter{NamePrefix: "tor"})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("prefix list: %+v %v", page.Items, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}
	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
