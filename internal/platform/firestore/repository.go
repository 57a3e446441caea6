package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed access to a collection that may be nested below parent documents.
// The path alternates collection names with parent IDs supplied at call time, so
// NewCollection[T](p, "stores", "products") addresses stores/{storeID}/products.
type Collection[T any] struct {
	provider *Provider
	names    []string
}

// NewCollection binds a typed collection to its collection path names.
func NewCollection[T any](provider *Provider, names ...string) *Collection[T] {
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			cleaned = append(cleaned, name)
		}
	}
	return &Collection[T]{provider: provider, names: cleaned}
}

// Ref resolves the collection reference for the supplied parent document IDs.
func (c *Collection[T]) Ref(ctx context.Context, parentIDs ...string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("collection", errors.New("firestore: provider is nil"))
	}
	if len(c.names) == 0 {
		return nil, WrapError("collection", errors.New("firestore: collection name is required"))
	}
	if len(parentIDs) != len(c.names)-1 {
		return nil, WrapError(c.Op("collection"), fmt.Errorf("firestore: expected %d parent ids, got %d", len(c.names)-1, len(parentIDs)))
	}
	for _, id := range parentIDs {
		if strings.TrimSpace(id) == "" {
			return nil, WrapError(c.Op("collection"), errors.New("firestore: parent id is required"))
		}
	}

	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	ref := client.Collection(c.names[0])
	for i, id := range parentIDs {
		ref = ref.Doc(id).Collection(c.names[i+1])
	}
	return ref, nil
}

// Doc resolves a document reference. The id comes first, followed by parent IDs from outermost inwards.
func (c *Collection[T]) Doc(ctx context.Context, id string, parentIDs ...string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.Op("document"), errors.New("firestore: document id is required"))
	}
	ref, err := c.Ref(ctx, parentIDs...)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Get fetches and decodes a single document.
func (c *Collection[T]) Get(ctx context.Context, id string, parentIDs ...string) (Document[T], error) {
	ref, err := c.Doc(ctx, id, parentIDs...)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.Op("get"), err)
	}
	return Decode[T](snap)
}

// Set writes the value under id, replacing any existing document.
func (c *Collection[T]) Set(ctx context.Context, value T, id string, parentIDs ...string) (time.Time, error) {
	ref, err := c.Doc(ctx, id, parentIDs...)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Set(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.Op("set"), err)
	}
	return result.UpdateTime, nil
}

// Create writes the value under id and fails with a conflict when the document already exists.
func (c *Collection[T]) Create(ctx context.Context, value T, id string, parentIDs ...string) (time.Time, error) {
	ref, err := c.Doc(ctx, id, parentIDs...)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Create(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.Op("create"), err)
	}
	return result.UpdateTime, nil
}

// Update applies field updates to an existing document.
func (c *Collection[T]) Update(ctx context.Context, updates []firestore.Update, id string, parentIDs ...string) (time.Time, error) {
	ref, err := c.Doc(ctx, id, parentIDs...)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Update(ctx, updates)
	if err != nil {
		return time.Time{}, WrapError(c.Op("update"), err)
	}
	return result.UpdateTime, nil
}

// Delete removes the document. Missing documents are not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string, parentIDs ...string) error {
	ref, err := c.Doc(ctx, id, parentIDs...)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return WrapError(c.Op("delete"), err)
	}
	return nil
}

// Query runs build against the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder, parentIDs ...string) ([]Document[T], error) {
	ref, err := c.Ref(ctx, parentIDs...)
	if err != nil {
		return nil, err
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}
	return c.Collect(ctx, query)
}

// Collect drains a query built elsewhere, for example a collection group query.
func (c *Collection[T]) Collect(ctx context.Context, query firestore.Query) ([]Document[T], error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.Op("query"), err)
		}
		doc, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Op formats an operation label such as "stores.products.get" for error annotation.
func (c *Collection[T]) Op(action string) string {
	name := "firestore"
	if c != nil && len(c.names) > 0 {
		name = strings.Join(c.names, ".")
	}
	return name + "." + strings.ToLower(action)
}

// Decode hydrates a typed document from a snapshot.
func Decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	if snap == nil || snap.Ref == nil {
		return Document[T]{}, errors.New("firestore: snapshot is nil")
	}
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}
