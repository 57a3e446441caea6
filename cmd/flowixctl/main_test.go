package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const catalogue = `plans:
  - id: free
    name: Gratis
    price_monthly: 0
    currency: ARS
    max_products: 10
  - id: pro
    name: Pro
    price_monthly: 1500000
    currency: ARS
    max_products: 500
    features: [exports]
`

func TestPlansSeedDryRunSkipsBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	if err := os.WriteFile(path, []byte(catalogue), 0o600); err != nil {
		t.Fatalf("write catalogue: %v", err)
	}

	factory := func(context.Context, string) (*runtime, error) {
		t.Fatalf("dry run must not open the backend")
		return nil, nil
	}
	var out bytes.Buffer
	root := newRootCommand(factory)
	root.SetOut(&out)
	root.SetArgs([]string{"plans", "seed", "--file", path, "--dry-run"})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "free") || !strings.Contains(got, "1500000") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestPlansSeedRequiresFile(t *testing.T) {
	root := newRootCommand(func(context.Context, string) (*runtime, error) { return nil, errors.New("unused") })
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"plans", "seed"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected missing flag error")
	}
}

func TestAdminsGrantPropagatesRuntimeError(t *testing.T) {
	var gotEnv string
	root := newRootCommand(func(_ context.Context, envFile string) (*runtime, error) {
		gotEnv = envFile
		return nil, errors.New("no credentials")
	})
	root.SetArgs([]string{"--env-file", "prod.env", "admins", "grant", "uid-1"})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("expected runtime error, got %v", err)
	}
	if gotEnv != "prod.env" {
		t.Fatalf("expected env file flag to reach the factory, got %q", gotEnv)
	}
}

func TestAdminsGrantRequiresUID(t *testing.T) {
	root := newRootCommand(func(context.Context, string) (*runtime, error) { return nil, errors.New("unused") })
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"admins", "grant"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected argument error")
	}
}
