package handlers

import (
	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/services"
)

type variantOptionPayload struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	PriceModifier int64  `json:"priceModifier"`
}

type variantGroupPayload struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Kind        string                 `json:"kind"`
	Description string                 `json:"description,omitempty"`
	Options     []variantOptionPayload `json:"options"`
}

func buildVariantGroups(groups []domain.VariantGroup) []variantGroupPayload {
	out := make([]variantGroupPayload, 0, len(groups))
	for _, g := range groups {
		opts := make([]variantOptionPayload, 0, len(g.Options))
		for _, o := range g.Options {
			opts = append(opts, variantOptionPayload{ID: o.ID, Label: o.Label, PriceModifier: o.PriceModifier})
		}
		out = append(out, variantGroupPayload{
			ID:          g.ID,
			Name:        g.Name,
			Kind:        string(g.Kind),
			Description: g.Description,
			Options:     opts,
		})
	}
	return out
}

func (p variantGroupPayload) toDomain() domain.VariantGroup {
	group := domain.VariantGroup{
		ID:          p.ID,
		Name:        p.Name,
		Kind:        domain.VariantKind(p.Kind),
		Description: p.Description,
		Options:     make([]domain.VariantOption, 0, len(p.Options)),
	}
	for _, o := range p.Options {
		group.Options = append(group.Options, domain.VariantOption{ID: o.ID, Label: o.Label, PriceModifier: o.PriceModifier})
	}
	return group
}

func variantGroupsFromPayload(in []variantGroupPayload) []domain.VariantGroup {
	out := make([]domain.VariantGroup, 0, len(in))
	for _, g := range in {
		out = append(out, g.toDomain())
	}
	return out
}

type billingPayload struct {
	Status               string  `json:"status"`
	PaidUntil            *string `json:"paidUntil,omitempty"`
	StripeCustomerID     string  `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string  `json:"stripeSubscriptionId,omitempty"`
	Note                 string  `json:"note,omitempty"`
	UpdatedAt            string  `json:"updatedAt,omitempty"`
	UpdatedBy            string  `json:"updatedBy,omitempty"`
}

type storePayload struct {
	ID              string          `json:"id"`
	OwnerUID        string          `json:"ownerUid,omitempty"`
	Slug            string          `json:"slug"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	WhatsAppNumber  string          `json:"whatsappNumber,omitempty"`
	Currency        string          `json:"currency"`
	Locale          string          `json:"locale,omitempty"`
	LogoURL         string          `json:"logoUrl,omitempty"`
	Status          string          `json:"status,omitempty"`
	SuspendedReason string          `json:"suspendedReason,omitempty"`
	PlanID          string          `json:"planId,omitempty"`
	Billing         *billingPayload `json:"billing,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

func buildStorePayload(store services.Store) storePayload {
	return storePayload{
		ID:              store.ID,
		OwnerUID:        store.OwnerUID,
		Slug:            store.Slug,
		Name:            store.Name,
		Description:     store.Description,
		WhatsAppNumber:  store.WhatsAppNumber,
		Currency:        store.Currency,
		Locale:          store.Locale,
		LogoURL:         store.LogoURL,
		Status:          string(store.Status),
		SuspendedReason: store.SuspendedReason,
		PlanID:          store.PlanID,
		Billing: &billingPayload{
			Status:               string(store.Billing.Status),
			PaidUntil:            formatTimePtr(store.Billing.PaidUntil),
			StripeCustomerID:     store.Billing.StripeCustomerID,
			StripeSubscriptionID: store.Billing.StripeSubscriptionID,
			Note:                 store.Billing.Note,
			UpdatedAt:            formatTime(store.Billing.UpdatedAt),
			UpdatedBy:            store.Billing.UpdatedBy,
		},
		CreatedAt: formatTime(store.CreatedAt),
		UpdatedAt: formatTime(store.UpdatedAt),
	}
}

// buildPublicStorePayload drops ownership and billing details.
func buildPublicStorePayload(store services.Store) storePayload {
	return storePayload{
		ID:             store.ID,
		Slug:           store.Slug,
		Name:           store.Name,
		Description:    store.Description,
		WhatsAppNumber: store.WhatsAppNumber,
		Currency:       store.Currency,
		Locale:         store.Locale,
		LogoURL:        store.LogoURL,
	}
}

type productPayload struct {
	ID              string                `json:"id"`
	StoreID         string                `json:"storeId,omitempty"`
	Name            string                `json:"name"`
	Description     string                `json:"description,omitempty"`
	DescriptionHTML string                `json:"descriptionHtml,omitempty"`
	BasePrice       int64                 `json:"basePrice"`
	ImageURL        string                `json:"imageUrl,omitempty"`
	Variants        []variantGroupPayload `json:"variants"`
	Active          bool                  `json:"active"`
	Position        int                   `json:"position"`
	CreatedAt       string                `json:"createdAt,omitempty"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:              product.ID,
		StoreID:         product.StoreID,
		Name:            product.Name,
		Description:     product.Description,
		DescriptionHTML: product.DescriptionHTML,
		BasePrice:       product.BasePrice,
		ImageURL:        product.ImageURL,
		Variants:        buildVariantGroups(product.Variants),
		Active:          product.Active,
		Position:        product.Position,
		CreatedAt:       formatTime(product.CreatedAt),
		UpdatedAt:       formatTime(product.UpdatedAt),
	}
}

type resolvedOptionPayload struct {
	GroupID       string `json:"groupId"`
	GroupName     string `json:"groupName"`
	OptionID      string `json:"optionId"`
	OptionLabel   string `json:"optionLabel"`
	PriceModifier int64  `json:"priceModifier"`
}

type quotePayload struct {
	ProductID             string                  `json:"productId"`
	Currency              string                  `json:"currency"`
	UnitPrice             int64                   `json:"unitPrice"`
	IsComplete            bool                    `json:"isComplete"`
	MissingRequiredGroups []string                `json:"missingRequiredGroups"`
	Selected              []resolvedOptionPayload `json:"selected"`
}

func buildQuotePayload(quote services.PriceQuote) quotePayload {
	missing := quote.Resolution.MissingRequiredGroups
	if missing == nil {
		missing = []string{}
	}
	selected := make([]resolvedOptionPayload, 0, len(quote.Resolution.Selected))
	for _, opt := range quote.Resolution.Selected {
		selected = append(selected, resolvedOptionPayload{
			GroupID:       opt.GroupID,
			GroupName:     opt.GroupName,
			OptionID:      opt.OptionID,
			OptionLabel:   opt.OptionLabel,
			PriceModifier: opt.PriceModifier,
		})
	}
	return quotePayload{
		ProductID:             quote.Product.ID,
		Currency:              quote.Currency,
		UnitPrice:             quote.Resolution.UnitPrice,
		IsComplete:            quote.Resolution.IsComplete,
		MissingRequiredGroups: missing,
		Selected:              selected,
	}
}

type orderLinePayload struct {
	ProductID   string                  `json:"productId"`
	ProductName string                  `json:"productName"`
	ImageURL    string                  `json:"imageUrl,omitempty"`
	Quantity    int                     `json:"quantity"`
	BasePrice   int64                   `json:"basePrice"`
	UnitPrice   int64                   `json:"unitPrice"`
	LineTotal   int64                   `json:"lineTotal"`
	Options     []resolvedOptionPayload `json:"options"`
}

type orderCustomerPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Note  string `json:"note,omitempty"`
}

type orderPayload struct {
	ID          string               `json:"id"`
	StoreID     string               `json:"storeId"`
	Number      int64                `json:"number"`
	Customer    orderCustomerPayload `json:"customer"`
	Lines       []orderLinePayload   `json:"lines"`
	Total       int64                `json:"total"`
	Currency    string               `json:"currency"`
	Status      string               `json:"status"`
	WhatsAppURL string               `json:"whatsappUrl,omitempty"`
	CreatedAt   string               `json:"createdAt,omitempty"`
	UpdatedAt   string               `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		opts := make([]resolvedOptionPayload, 0, len(line.Options))
		for _, o := range line.Options {
			opts = append(opts, resolvedOptionPayload{
				GroupID:       o.GroupID,
				GroupName:     o.GroupName,
				OptionID:      o.OptionID,
				OptionLabel:   o.OptionLabel,
				PriceModifier: o.PriceModifier,
			})
		}
		lines = append(lines, orderLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ImageURL:    line.ImageURL,
			Quantity:    line.Quantity,
			BasePrice:   line.BasePrice,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
			Options:     opts,
		})
	}
	return orderPayload{
		ID:      order.ID,
		StoreID: order.StoreID,
		Number:  order.Number,
		Customer: orderCustomerPayload{
			Name:  order.Customer.Name,
			Phone: order.Customer.Phone,
			Note:  order.Customer.Note,
		},
		Lines:       lines,
		Total:       order.Total,
		Currency:    order.Currency,
		Status:      string(order.Status),
		WhatsAppURL: order.WhatsAppURL,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
}

type userPayload struct {
	ID          string  `json:"id"`
	Email       string  `json:"email,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Role        string  `json:"role"`
	Disabled    bool    `json:"disabled"`
	StoreID     string  `json:"storeId,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
	LastLoginAt *string `json:"lastLoginAt,omitempty"`
}

func buildUserPayload(user services.UserProfile) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Disabled:    user.Disabled,
		StoreID:     user.StoreID,
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
		LastLoginAt: formatTimePtr(user.LastLoginAt),
	}
}

type planPayload struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PriceMonthly int64    `json:"priceMonthly"`
	Currency     string   `json:"currency"`
	MaxProducts  int      `json:"maxProducts"`
	Features     []string `json:"features"`
	Active       bool     `json:"active"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

func buildPlanPayload(plan services.Plan) planPayload {
	features := plan.Features
	if features == nil {
		features = []string{}
	}
	return planPayload{
		ID:           plan.ID,
		Name:         plan.Name,
		PriceMonthly: plan.PriceMonthly,
		Currency:     plan.Currency,
		MaxProducts:  plan.MaxProducts,
		Features:     features,
		Active:       plan.Active,
		UpdatedAt:    formatTime(plan.UpdatedAt),
	}
}

type impersonationPayload struct {
	ID        string  `json:"id"`
	AdminUID  string  `json:"adminUid"`
	TargetUID string  `json:"targetUid"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"createdAt"`
	ExpiresAt string  `json:"expiresAt"`
	EndedAt   *string `json:"endedAt,omitempty"`
	EndedBy   string  `json:"endedBy,omitempty"`
}

func buildImpersonationPayload(session services.ImpersonationSession) impersonationPayload {
	return impersonationPayload{
		ID:        session.ID,
		AdminUID:  session.AdminUID,
		TargetUID: session.TargetUID,
		Reason:    session.Reason,
		CreatedAt: formatTime(session.CreatedAt),
		ExpiresAt: formatTime(session.ExpiresAt),
		EndedAt:   formatTimePtr(session.EndedAt),
		EndedBy:   session.EndedBy,
	}
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actorType"`
	Action    string         `json:"action"`
	TargetRef string         `json:"targetRef"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func buildAuditLogPayload(entry services.AuditLogEntry) auditLogPayload {
	return auditLogPayload{
		ID:        entry.ID,
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Severity:  entry.Severity,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		RequestID: entry.RequestID,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}

func mapItems[T, P any](items []T, build func(T) P) []P {
	out := make([]P, 0, len(items))
	for _, item := range items {
		out = append(out, build(item))
	}
	return out
}
