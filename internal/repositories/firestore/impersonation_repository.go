package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/flowix-ar/storefront/internal/domain"
	pfirestore "github.com/flowix-ar/storefront/internal/platform/firestore"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const impersonationsCollection = "impersonations"

// endedAt is stored as an explicit null while the session is open so active sessions can be
// queried with an equality filter.
type impersonationDocument struct {
	AdminUID  string     `firestore:"adminUid"`
	TargetUID string     `firestore:"targetUid"`
	Reason    string     `firestore:"reason"`
	CreatedAt time.Time  `firestore:"createdAt"`
	ExpiresAt time.Time  `firestore:"expiresAt"`
	EndedAt   *time.Time `firestore:"endedAt"`
	EndedBy   string     `firestore:"endedBy,omitempty"`
}

// ImpersonationRepository persists super admin impersonation sessions.
type ImpersonationRepository struct {
	provider *pfirestore.Provider
	sessions *pfirestore.Collection[impersonationDocument]
}

var _ repositories.ImpersonationRepository = (*ImpersonationRepository)(nil)

// NewImpersonationRepository constructs a Firestore-backed impersonation repository.
func NewImpersonationRepository(provider *pfirestore.Provider) (*ImpersonationRepository, error) {
	if provider == nil {
		return nil, errors.New("impersonation repository requires firestore provider")
	}
	return &ImpersonationRepository{
		provider: provider,
		sessions: pfirestore.NewCollection[impersonationDocument](provider, impersonationsCollection),
	}, nil
}

func (r *ImpersonationRepository) Create(ctx context.Context, session domain.ImpersonationSession) error {
	if r == nil || r.sessions == nil {
		return errNotInitialised
	}
	_, err := r.sessions.Create(ctx, fromDomainSession(session), session.ID)
	return err
}

func (r *ImpersonationRepository) Get(ctx context.Context, sessionID string) (domain.ImpersonationSession, error) {
	if r == nil || r.sessions == nil {
		return domain.ImpersonationSession{}, errNotInitialised
	}
	doc, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.ImpersonationSession{}, err
	}
	return toDomainSession(doc), nil
}

// End closes the session once; later calls return the stored session unchanged.
func (r *ImpersonationRepository) End(ctx context.Context, sessionID string, endedAt time.Time, endedBy string) (domain.ImpersonationSession, error) {
	if r == nil || r.provider == nil {
		return domain.ImpersonationSession{}, errNotInitialised
	}
	ref, err := r.sessions.Doc(ctx, sessionID)
	if err != nil {
		return domain.ImpersonationSession{}, err
	}

	var result domain.ImpersonationSession
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("impersonations.end", err)
		}
		doc, err := pfirestore.Decode[impersonationDocument](snap)
		if err != nil {
			return err
		}
		result = toDomainSession(doc)
		if result.EndedAt != nil {
			return nil
		}
		ended := endedAt.UTC()
		result.EndedAt = &ended
		result.EndedBy = strings.TrimSpace(endedBy)
		return tx.Update(ref, []firestore.Update{
			{Path: "endedAt", Value: ended},
			{Path: "endedBy", Value: result.EndedBy},
		})
	})
	if err != nil {
		return domain.ImpersonationSession{}, err
	}
	return result, nil
}

// List returns sessions newest first.
func (r *ImpersonationRepository) List(ctx context.Context, filter repositories.ImpersonationFilter) (domain.CursorPage[domain.ImpersonationSession], error) {
	if r == nil || r.sessions == nil {
		return domain.CursorPage[domain.ImpersonationSession]{}, errNotInitialised
	}
	build := func(q firestore.Query) firestore.Query {
		if filter.AdminUID != "" {
			q = q.Where("adminUid", "==", filter.AdminUID)
		}
		if filter.TargetUID != "" {
			q = q.Where("targetUid", "==", filter.TargetUID)
		}
		if filter.ActiveOnly {
			now := filter.Now
			if now.IsZero() {
				now = time.Now()
			}
			return q.Where("endedAt", "==", nil).
				Where("expiresAt", ">", now.UTC()).
				OrderBy("expiresAt", firestore.Desc)
		}
		return q.OrderBy("createdAt", firestore.Desc)
	}
	return listPage(ctx, r.sessions, build, filter.Pagination, toDomainSession)
}

// ListExpired returns open sessions whose expiry has passed, oldest first.
func (r *ImpersonationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.ImpersonationSession, error) {
	if r == nil || r.sessions == nil {
		return nil, errNotInitialised
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := r.sessions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("endedAt", "==", nil).
			Where("expiresAt", "<=", now.UTC()).
			OrderBy("expiresAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.ImpersonationSession, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, toDomainSession(doc))
	}
	return sessions, nil
}

func fromDomainSession(session domain.ImpersonationSession) impersonationDocument {
	return impersonationDocument{
		AdminUID:  session.AdminUID,
		TargetUID: session.TargetUID,
		Reason:    session.Reason,
		CreatedAt: session.CreatedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
		EndedAt:   session.EndedAt,
		EndedBy:   session.EndedBy,
	}
}

func toDomainSession(doc pfirestore.Document[impersonationDocument]) domain.ImpersonationSession {
	d := doc.Data
	return domain.ImpersonationSession{
		ID:        doc.ID,
		AdminUID:  d.AdminUID,
		TargetUID: d.TargetUID,
		Reason:    d.Reason,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
		EndedAt:   d.EndedAt,
		EndedBy:   d.EndedBy,
	}
}
