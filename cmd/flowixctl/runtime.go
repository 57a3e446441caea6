package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowix-ar/storefront/internal/di"
	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/platform/config"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/platform/observability"
	"github.com/flowix-ar/storefront/internal/platform/secrets"
	firestoreRepo "github.com/flowix-ar/storefront/internal/repositories/firestore"
	"github.com/flowix-ar/storefront/internal/services"
)

// cliActor is recorded in the audit trail for changes made from the command line.
var cliActor = services.ActorContext{ActorID: "flowixctl", ActorType: "system"}

// runtime holds the services the commands operate on.
type runtime struct {
	Plans services.PlanService
	Users services.UserService
	Auth  *auth.FirebaseAdmin

	logger    *zap.Logger
	provider  *pfirestore.Provider
	container *di.Container
	fetcher   *secrets.Fetcher
}

func newRuntime(ctx context.Context, envFile string) (*runtime, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.Named("flowixctl")

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}
	cfg, err := config.Load(ctx, config.WithEnvFile(envFile), config.WithSecretResolver(fetcher))
	if err != nil {
		_ = fetcher.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}

	rt := &runtime{logger: logger, fetcher: fetcher, provider: pfirestore.NewProvider(cfg.Firestore)}
	if err := rt.wire(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context, cfg config.Config) error {
	admin, err := auth.NewFirebaseAdmin(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("init firebase admin: %w", err)
	}
	rt.Auth = admin

	registry, err := firestoreRepo.NewRegistry(rt.provider, nil)
	if err != nil {
		return err
	}
	container, err := di.NewContainer(cfg, registry, di.Integrations{Auth: admin, Logger: rt.logger})
	if err != nil {
		return err
	}
	rt.container = container
	rt.Plans = container.Services.Plans
	rt.Users = container.Services.Users
	return nil
}

// Close releases the Firestore and Secret Manager clients.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	switch {
	case rt.container != nil:
		errs = append(errs, rt.container.Close(ctx))
	case rt.provider != nil:
		errs = append(errs, rt.provider.Close(ctx))
	}
	if rt.fetcher != nil {
		errs = append(errs, rt.fetcher.Close())
	}
	if err := errors.Join(errs...); err != nil && rt.logger != nil {
		rt.logger.Warn("close runtime", zap.Error(err))
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}
