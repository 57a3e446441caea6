package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	minSearchKeyLength = 2
)

// ErrSearchInvalidInput signals the query is empty or too short.
var ErrSearchInvalidInput = errors.New("search: invalid input")

// SearchServiceDeps wires the admin quick search.
type SearchServiceDeps struct {
	Stores repositories.StoreRepository
	Users  repositories.UserRepository
}

type searchService struct {
	stores repositories.StoreRepository
	users  repositories.UserRepository
}

// NewSearchService constructs a SearchService.
func NewSearchService(deps SearchServiceDeps) (SearchService, error) {
	if deps.Stores == nil {
		return nil, errors.New("search service: store repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("search service: user repository is required")
	}
	return &searchService{stores: deps.Stores, users: deps.Users}, nil
}

// Search runs the store and user prefix lookups concurrently.
func (s *searchService) Search(ctx context.Context, query SearchQuery) (SearchResult, error) {
	key := textutil.SearchKey(query.Query)
	if len([]rune(key)) < minSearchKeyLength {
		return SearchResult{}, fmt.Errorf("%w: query must have at least %d characters", ErrSearchInvalidInput, minSearchKeyLength)
	}
	limit := query.Limit
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	page := domain.Pagination{PageSize: limit}

	result := SearchResult{Stores: []Store{}, Users: []UserProfile{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stores, err := s.stores.List(gctx, repositories.StoreFilter{NamePrefix: key, Pagination: page})
		if err != nil {
			return fmt.Errorf("search: stores: %w", err)
		}
		if len(stores.Items) > 0 {
			result.Stores = stores.Items
		}
		return nil
	})
	g.Go(func() error {
		users, err := s.users.List(gctx, repositories.UserFilter{Prefix: key, Pagination: page})
		if err != nil {
			return fmt.Errorf("search: users: %w", err)
		}
		if len(users.Items) > 0 {
			result.Users = users.Items
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	return result, nil
}
