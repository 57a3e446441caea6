package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const userCollection = "users"

type userDocument struct {
	Email       string     `firestore:"email"`
	SearchEmail string     `firestore:"searchEmail"`
	DisplayName string     `firestore:"displayName,omitempty"`
	SearchName  string     `firestore:"searchName"`
	Role        string     `firestore:"role"`
	Disabled    bool       `firestore:"disabled"`
	StoreID     string     `firestore:"storeId,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	LastLoginAt *time.Time `firestore:"lastLoginAt,omitempty"`
}

// UserRepository persists user profiles keyed by Firebase UID.
type UserRepository struct {
	users *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[userDocument](provider, userCollection)}, nil
}

// Get loads the user profile by UID.
func (r *UserRepository) Get(ctx context.Context, uid string) (domain.UserProfile, error) {
	if r == nil || r.users == nil {
		return domain.UserProfile{}, errNotInitialised
	}
	doc, err := r.users.Get(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return toDomainProfile(doc), nil
}

// Upsert replaces the profile document.
func (r *UserRepository) Upsert(ctx context.Context, profile domain.UserProfile) error {
	if r == nil || r.users == nil {
		return errNotInitialised
	}
	_, err := r.users.Set(ctx, fromDomainProfile(profile), profile.ID)
	return err
}

// List pages through users newest first. With a prefix it matches either the email or the display
// name, merges both lookups and returns a single page without a continuation token.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserFilter) (domain.CursorPage[domain.UserProfile], error) {
	if r == nil || r.users == nil {
		return domain.CursorPage[domain.UserProfile]{}, errNotInitialised
	}
	withRole := func(q firestore.Query) firestore.Query {
		if filter.Role != "" {
			q = q.Where("role", "==", string(filter.Role))
		}
		return q
	}
	if filter.Prefix == "" {
		build := func(q firestore.Query) firestore.Query {
			return withRole(q).OrderBy("createdAt", firestore.Desc)
		}
		return listPage(ctx, r.users, build, filter.Pagination, toDomainProfile)
	}

	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	var byEmail, byName []pfirestore.Document[userDocument]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := r.users.Query(gctx, func(q firestore.Query) firestore.Query {
			return prefixQuery(withRole(q), "searchEmail", filter.Prefix).Limit(size)
		})
		byEmail = docs
		return err
	})
	g.Go(func() error {
		docs, err := r.users.Query(gctx, func(q firestore.Query) firestore.Query {
			return prefixQuery(withRole(q), "searchName", filter.Prefix).Limit(size)
		})
		byName = docs
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.CursorPage[domain.UserProfile]{}, err
	}

	seen := make(map[string]struct{}, len(byEmail)+len(byName))
	items := make([]domain.UserProfile, 0, len(byEmail)+len(byName))
	for _, doc := range append(byEmail, byName...) {
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}
		items = append(items, toDomainProfile(doc))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Email < items[j].Email })
	if len(items) > size {
		items = items[:size]
	}
	return domain.CursorPage[domain.UserProfile]{Items: items}, nil
}

func fromDomainProfile(profile domain.UserProfile) userDocument {
	return userDocument{
		Email:       profile.Email,
		SearchEmail: textutil.SearchKey(profile.Email),
		DisplayName: profile.DisplayName,
		SearchName:  textutil.SearchKey(profile.DisplayName),
		Role:        string(profile.Role),
		Disabled:    profile.Disabled,
		StoreID:     profile.StoreID,
		CreatedAt:   profile.CreatedAt.UTC(),
		UpdatedAt:   profile.UpdatedAt.UTC(),
		LastLoginAt: profile.LastLoginAt,
	}
}

func toDomainProfile(doc pfirestore.Document[userDocument]) domain.UserProfile {
	d := doc.Data
	profile := domain.UserProfile{
		ID:          doc.ID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		Role:        domain.UserRole(d.Role),
		Disabled:    d.Disabled,
		StoreID:     d.StoreID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		LastLoginAt: d.LastLoginAt,
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile
}
