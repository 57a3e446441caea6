package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string {
	parts := []string{"repository error"}
	switch {
	case e.notFound:
		parts = append(parts, "(not found)")
	case e.conflict:
		parts = append(parts, "(conflict)")
	case e.unavailable:
		parts = append(parts, "(unavailable)")
	}
	return strings.Join(parts, " ")
}

func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

var errNotFound = fakeRepositoryError{notFound: true}

func paginate[T any](items []T, page domain.Pagination) domain.CursorPage[T] {
	start := 0
	if page.PageToken != "" {
		if n, err := strconv.Atoi(page.PageToken); err == nil {
			start = n
		}
	}
	if start > len(items) {
		start = len(items)
	}
	size := page.PageSize
	if size <= 0 {
		size = len(items)
	}
	end := start + size
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	} else {
		end = len(items)
	}
	return domain.CursorPage[T]{Items: append([]T(nil), items[start:end]...), NextPageToken: next}
}

type memStoreRepo struct {
	mu        sync.Mutex
	stores    map[string]domain.Store
	createErr error
	lastList  repositories.StoreFilter
}

func newMemStoreRepo(stores ...domain.Store) *memStoreRepo {
	repo := &memStoreRepo{stores: map[string]domain.Store{}}
	for _, s := range stores {
		repo.stores[s.ID] = s
	}
	return repo
}

func (r *memStoreRepo) Create(_ context.Context, store domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.stores {
		if existing.Slug == store.Slug {
			return repositories.ErrStoreSlugTaken
		}
		if existing.OwnerUID == store.OwnerUID {
			return repositories.ErrStoreOwnerExists
		}
	}
	r.stores[store.ID] = store
	return nil
}

func (r *memStoreRepo) Update(_ context.Context, store domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[store.ID]; !ok {
		return errNotFound
	}
	r.stores[store.ID] = store
	return nil
}

func (r *memStoreRepo) Mutate(_ context.Context, storeID string, fn func(*domain.Store) error) (domain.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[storeID]
	if !ok {
		return domain.Store{}, errNotFound
	}
	if err := fn(&store); err != nil {
		return domain.Store{}, err
	}
	r.stores[storeID] = store
	return store, nil
}

func (r *memStoreRepo) Get(_ context.Context, storeID string) (domain.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[storeID]
	if !ok {
		return domain.Store{}, errNotFound
	}
	return store, nil
}

func (r *memStoreRepo) find(match func(domain.Store) bool) (domain.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, store := range r.stores {
		if match(store) {
			return store, nil
		}
	}
	return domain.Store{}, errNotFound
}

func (r *memStoreRepo) FindBySlug(_ context.Context, slug string) (domain.Store, error) {
	return r.find(func(s domain.Store) bool { return s.Slug == slug })
}

func (r *memStoreRepo) FindByOwner(_ context.Context, ownerUID string) (domain.Store, error) {
	return r.find(func(s domain.Store) bool { return s.OwnerUID == ownerUID })
}

func (r *memStoreRepo) FindBySubscription(_ context.Context, subscriptionID string) (domain.Store, error) {
	return r.find(func(s domain.Store) bool { return s.Billing.StripeSubscriptionID == subscriptionID })
}

func (r *memStoreRepo) List(_ context.Context, filter repositories.StoreFilter) (domain.CursorPage[domain.Store], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastList = filter
	var items []domain.Store
	for _, store := range r.stores {
		if filter.Status != "" && store.Status != filter.Status {
			continue
		}
		if filter.PlanID != "" && store.PlanID != filter.PlanID {
			continue
		}
		if filter.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(store.Name), filter.NamePrefix) {
			continue
		}
		if filter.WithSubscription && store.Billing.StripeSubscriptionID == "" {
			continue
		}
		items = append(items, store)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return paginate(items, filter.Pagination), nil
}

type memProductRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func newMemProductRepo(products ...domain.Product) *memProductRepo {
	repo := &memProductRepo{products: map[string]domain.Product{}}
	for _, p := range products {
		repo.products[p.StoreID+"/"+p.ID] = p
	}
	return repo
}

func (r *memProductRepo) Create(_ context.Context, product domain.Product, maxProducts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := product.StoreID + "/" + product.ID
	if _, ok := r.products[key]; ok {
		return fakeRepositoryError{conflict: true}
	}
	if maxProducts > 0 {
		n := 0
		for _, p := range r.products {
			if p.StoreID == product.StoreID {
				n++
			}
		}
		if n >= maxProducts {
			return repositories.ErrProductLimitReached
		}
	}
	r.products[key] = product
	return nil
}

func (r *memProductRepo) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := product.StoreID + "/" + product.ID
	if _, ok := r.products[key]; !ok {
		return errNotFound
	}
	r.products[key] = product
	return nil
}

func (r *memProductRepo) Delete(_ context.Context, storeID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := storeID + "/" + productID
	if _, ok := r.products[key]; !ok {
		return errNotFound
	}
	delete(r.products, key)
	return nil
}

func (r *memProductRepo) Get(_ context.Context, storeID, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[storeID+"/"+productID]
	if !ok {
		return domain.Product{}, errNotFound
	}
	return product, nil
}

func (r *memProductRepo) List(_ context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Product
	for _, p := range r.products {
		if p.StoreID != filter.StoreID || (filter.ActiveOnly && !p.Active) {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
	return paginate(items, filter.Pagination), nil
}

type memOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	counters map[string]int64
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: map[string]domain.Order{}, counters: map[string]int64{}}
	for _, o := range orders {
		repo.orders[o.StoreID+"/"+o.ID] = o
		if o.Number > repo.counters[o.StoreID] {
			repo.counters[o.StoreID] = o.Number
		}
	}
	return repo
}

func (r *memOrderRepo) Create(_ context.Context, order domain.Order, finalize func(*domain.Order) error) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.Number = r.counters[order.StoreID] + 1
	if finalize != nil {
		if err := finalize(&order); err != nil {
			return domain.Order{}, err
		}
	}
	r.counters[order.StoreID] = order.Number
	r.orders[order.StoreID+"/"+order.ID] = order
	return order, nil
}

func (r *memOrderRepo) Get(_ context.Context, storeID, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[storeID+"/"+orderID]
	if !ok {
		return domain.Order{}, errNotFound
	}
	return order, nil
}

func (r *memOrderRepo) Mutate(_ context.Context, storeID, orderID string, fn func(*domain.Order) error) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := storeID + "/" + orderID
	order, ok := r.orders[key]
	if !ok {
		return domain.Order{}, errNotFound
	}
	if err := fn(&order); err != nil {
		return domain.Order{}, err
	}
	r.orders[key] = order
	return order, nil
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, o := range r.orders {
		if o.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Since != nil && o.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !o.CreatedAt.Before(*filter.Until) {
			continue
		}
		items = append(items, o)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Number > items[j].Number })
	return paginate(items, filter.Pagination), nil
}

type memPlanRepo struct {
	mu    sync.Mutex
	plans map[string]domain.Plan
}

func newMemPlanRepo(plans ...domain.Plan) *memPlanRepo {
	repo := &memPlanRepo{plans: map[string]domain.Plan{}}
	for _, p := range plans {
		repo.plans[p.ID] = p
	}
	return repo
}

func (r *memPlanRepo) Get(_ context.Context, planID string) (domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return domain.Plan{}, errNotFound
	}
	return plan, nil
}

func (r *memPlanRepo) List(_ context.Context, activeOnly bool) ([]domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Plan
	for _, p := range r.plans {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPlanRepo) Upsert(_ context.Context, plan domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = plan
	return nil
}

type memUserRepo struct {
	mu      sync.Mutex
	users   map[string]domain.UserProfile
	upserts int
}

func newMemUserRepo(users ...domain.UserProfile) *memUserRepo {
	repo := &memUserRepo{users: map[string]domain.UserProfile{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memUserRepo) Get(_ context.Context, uid string) (domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return domain.UserProfile{}, errNotFound
	}
	return u, nil
}

func (r *memUserRepo) Upsert(_ context.Context, profile domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.users[profile.ID] = profile
	return nil
}

func (r *memUserRepo) List(_ context.Context, filter repositories.UserFilter) (domain.CursorPage[domain.UserProfile], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.UserProfile
	for _, u := range r.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Prefix != "" && !strings.HasPrefix(strings.ToLower(u.Email), filter.Prefix) &&
			!strings.HasPrefix(strings.ToLower(u.DisplayName), filter.Prefix) {
			continue
		}
		items = append(items, u)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return paginate(items, filter.Pagination), nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.ImpersonationSession
}

func newMemSessionRepo(sessions ...domain.ImpersonationSession) *memSessionRepo {
	repo := &memSessionRepo{sessions: map[string]domain.ImpersonationSession{}}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (r *memSessionRepo) Create(_ context.Context, session domain.ImpersonationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id string) (domain.ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ImpersonationSession{}, errNotFound
	}
	return s, nil
}

func (r *memSessionRepo) End(_ context.Context, id string, endedAt time.Time, endedBy string) (domain.ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ImpersonationSession{}, errNotFound
	}
	if s.EndedAt == nil {
		s.EndedAt = &endedAt
		s.EndedBy = endedBy
		r.sessions[id] = s
	}
	return s, nil
}

func (r *memSessionRepo) List(_ context.Context, filter repositories.ImpersonationFilter) (domain.CursorPage[domain.ImpersonationSession], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.ImpersonationSession
	for _, s := range r.sessions {
		if filter.AdminUID != "" && s.AdminUID != filter.AdminUID {
			continue
		}
		if filter.TargetUID != "" && s.TargetUID != filter.TargetUID {
			continue
		}
		if filter.ActiveOnly && !s.Active(filter.Now) {
			continue
		}
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return paginate(items, filter.Pagination), nil
}

func (r *memSessionRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ImpersonationSession
	for _, s := range r.sessions {
		if s.EndedAt == nil && !now.Before(s.ExpiresAt) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type captureAudit struct {
	mu      sync.Mutex
	records []AuditLogRecord
}

func (c *captureAudit) Record(_ context.Context, record AuditLogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *captureAudit) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.Action)
	}
	return out
}

type stubAuthAdmin struct {
	disabled    map[string]bool
	roles       map[string]string
	tokenClaims map[string]any
	tokenUID    string
	tokenErr    error
	err         error
}

func (s *stubAuthAdmin) SetDisabled(_ context.Context, uid string, disabled bool) error {
	if s.err != nil {
		return s.err
	}
	if s.disabled == nil {
		s.disabled = map[string]bool{}
	}
	s.disabled[uid] = disabled
	return nil
}

func (s *stubAuthAdmin) SetRole(_ context.Context, uid, role string) error {
	if s.err != nil {
		return s.err
	}
	if s.roles == nil {
		s.roles = map[string]string{}
	}
	s.roles[uid] = role
	return nil
}

func (s *stubAuthAdmin) CustomToken(_ context.Context, uid string, claims map[string]any) (string, error) {
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	s.tokenUID = uid
	s.tokenClaims = claims
	return "custom-token-" + uid, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}

var errBoom = errors.New("boom")
