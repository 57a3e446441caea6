package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/platform/pagination"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
)

const defaultPageSize = 20

var errNotInitialised = errors.New("firestore repository not initialised")

// listPage runs build against the collection and returns one page. The page token carries the
// ID of the last document, and the next page starts after that document's snapshot so any
// ordering the builder applies is honoured.
func listPage[D any, T any](
	ctx context.Context,
	coll *pfirestore.Collection[D],
	build pfirestore.QueryBuilder,
	page domain.Pagination,
	convert func(pfirestore.Document[D]) T,
	parentIDs ...string,
) (domain.CursorPage[T], error) {
	ref, err := coll.Ref(ctx, parentIDs...)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	size := page.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}

	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		if cursor.Key != "" {
			snap, err := ref.Doc(cursor.Key).Get(ctx)
			if err != nil {
				if pfirestore.IsNotFound(pfirestore.WrapError(coll.Op("list"), err)) {
					return domain.CursorPage[T]{}, fmt.Errorf("%w: cursor document is gone", pagination.ErrInvalidPageToken)
				}
				return domain.CursorPage[T]{}, pfirestore.WrapError(coll.Op("list"), err)
			}
			query = query.StartAfter(snap)
		}
	}

	docs, err := coll.Collect(ctx, query.Limit(size+1))
	if err != nil {
		return domain.CursorPage[T]{}, err
	}

	result := domain.CursorPage[T]{}
	if len(docs) > size {
		docs = docs[:size]
		next, err := pagination.EncodeToken(pagination.Cursor{Key: docs[len(docs)-1].ID})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		result.NextPageToken = next
	}
	result.Items = make([]T, 0, len(docs))
	for _, doc := range docs {
		result.Items = append(result.Items, convert(doc))
	}
	return result, nil
}

// prefixQuery restricts field to values starting with prefix and orders by it.
func prefixQuery(q firestore.Query, field, prefix string) firestore.Query {
	start, end := textutil.PrefixRange(prefix)
	return q.Where(field, ">=", start).Where(field, "<", end).OrderBy(field, firestore.Asc)
}

func isMissing(op string, err error) bool {
	return err != nil && pfirestore.IsNotFound(pfirestore.WrapError(op, err))
}
