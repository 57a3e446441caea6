package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/flowix-ar/storefront/internal/services"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSubscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	// Subscriptions overrides the Stripe subscription client, mainly for tests.
	Subscriptions stripeSubscriptionAPI
	// StrictAPIVersion rejects webhook payloads rendered for a different API version.
	StrictAPIVersion bool
}

// StripeProvider reads merchant subscriptions and verifies Stripe webhooks.
type StripeProvider struct {
	subscriptions stripeSubscriptionAPI
	webhookSecret string
	strictVersion bool
	logger        StripeLogger
}

var _ services.BillingProvider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe billing provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Subscriptions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	subs := cfg.Subscriptions
	if subs == nil {
		sc := client.New(apiKey, cfg.Backends)
		subs = sc.Subscriptions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		subscriptions: subs,
		webhookSecret: secret,
		strictVersion: cfg.StrictAPIVersion,
		logger:        logger,
	}, nil
}

// GetSubscription fetches the current state of a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (services.Subscription, error) {
	if p == nil {
		return services.Subscription{}, errors.New("stripe: provider is nil")
	}
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return services.Subscription{}, errors.New("stripe: subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.subscriptions.Get(id, params)
	if err != nil {
		return services.Subscription{}, fmt.Errorf("stripe: get subscription: %w", err)
	}
	p.logger(ctx, "payments.stripe.subscription.fetched", map[string]any{
		"subscriptionId": sub.ID,
		"status":         string(sub.Status),
	})
	return toSubscription(sub), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes subscription events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (services.SubscriptionEvent, error) {
	if p == nil {
		return services.SubscriptionEvent{}, errors.New("stripe: provider is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: !p.strictVersion,
	})
	if err != nil {
		return services.SubscriptionEvent{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	out := services.SubscriptionEvent{ID: event.ID, Type: string(event.Type)}
	if !isSubscriptionEvent(event.Type) {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return services.SubscriptionEvent{}, errors.New("stripe: webhook event has no data")
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return services.SubscriptionEvent{}, fmt.Errorf("stripe: decode subscription: %w", err)
	}
	out.Handled = true
	out.Subscription = toSubscription(&sub)
	return out, nil
}

func isSubscriptionEvent(t stripe.EventType) bool {
	switch string(t) {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed",
		"customer.subscription.trial_will_end":
		return true
	}
	return false
}

func toSubscription(sub *stripe.Subscription) services.Subscription {
	if sub == nil {
		return services.Subscription{}
	}
	out := services.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if len(sub.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(sub.Metadata))
		for k, v := range sub.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
