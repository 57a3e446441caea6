package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/auth"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	defaultImpersonationTTL = 30 * time.Minute
	maxImpersonationTTL     = 4 * time.Hour
	expireBatchSize         = 100
)

var (
	// ErrImpersonationInvalidInput signals the caller provided invalid data.
	ErrImpersonationInvalidInput = errors.New("impersonation: invalid input")
	// ErrImpersonationNotFound indicates the session could not be located.
	ErrImpersonationNotFound = errors.New("impersonation: not found")
	// ErrImpersonationForbidden indicates the target account cannot be impersonated.
	ErrImpersonationForbidden = errors.New("impersonation: target cannot be impersonated")
	// ErrImpersonationInactive indicates the session ended, expired or does not match the token.
	ErrImpersonationInactive = errors.New("impersonation: session inactive")
)

// ImpersonationServiceDeps wires the impersonation service.
type ImpersonationServiceDeps struct {
	Sessions    repositories.ImpersonationRepository
	Users       repositories.UserRepository
	Auth        UserAuthAdmin
	Audit       AuditLogService
	TTL         time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type impersonationService struct {
	sessions repositories.ImpersonationRepository
	users    repositories.UserRepository
	auth     UserAuthAdmin
	audit    AuditLogService
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
	log      eventLogger
}

// NewImpersonationService constructs an ImpersonationService.
func NewImpersonationService(deps ImpersonationServiceDeps) (ImpersonationService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("impersonation service: session repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("impersonation service: user repository is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("impersonation service: auth admin is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultImpersonationTTL
	}
	if ttl > maxImpersonationTTL {
		ttl = maxImpersonationTTL
	}
	return &impersonationService{
		sessions: deps.Sessions,
		users:    deps.Users,
		auth:     deps.Auth,
		audit:    deps.Audit,
		ttl:      ttl,
		now:      utcClock(deps.Clock),
		newID:    idGenerator(deps.IDGenerator),
		log:      newLogger(deps.Logger),
	}, nil
}

func (s *impersonationService) StartImpersonation(ctx context.Context, cmd StartImpersonationCommand) (ImpersonationGrant, error) {
	adminUID := strings.TrimSpace(cmd.Actor.ActorID)
	if adminUID == "" {
		return ImpersonationGrant{}, fmt.Errorf("%w: actor is required", ErrImpersonationInvalidInput)
	}
	targetUID := strings.TrimSpace(cmd.TargetUID)
	if targetUID == "" {
		return ImpersonationGrant{}, fmt.Errorf("%w: target uid is required", ErrImpersonationInvalidInput)
	}
	if targetUID == adminUID {
		return ImpersonationGrant{}, fmt.Errorf("%w: cannot impersonate yourself", ErrImpersonationForbidden)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return ImpersonationGrant{}, fmt.Errorf("%w: reason is required", ErrImpersonationInvalidInput)
	}
	if runeLen(reason) > maxModerationReasonLen {
		return ImpersonationGrant{}, fmt.Errorf("%w: reason is too long", ErrImpersonationInvalidInput)
	}

	target, err := s.users.Get(ctx, targetUID)
	if err != nil {
		if isRepoNotFound(err) {
			return ImpersonationGrant{}, ErrUserNotFound
		}
		return ImpersonationGrant{}, fmt.Errorf("impersonation: load target: %w", err)
	}
	if target.Role == domain.UserRoleSuperAdmin {
		return ImpersonationGrant{}, fmt.Errorf("%w: target is a super admin", ErrImpersonationForbidden)
	}
	if target.Disabled {
		return ImpersonationGrant{}, fmt.Errorf("%w: target is disabled", ErrImpersonationForbidden)
	}

	now := s.now()
	session := ImpersonationSession{
		ID:        s.newID(),
		AdminUID:  adminUID,
		TargetUID: targetUID,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return ImpersonationGrant{}, fmt.Errorf("impersonation: create session: %w", err)
	}

	token, err := s.auth.CustomToken(ctx, targetUID, map[string]any{
		auth.ClaimImpersonatedBy:  adminUID,
		auth.ClaimImpersonationID: session.ID,
	})
	if err != nil {
		if _, endErr := s.sessions.End(ctx, session.ID, now, adminUID); endErr != nil {
			s.log(ctx, "impersonation.cleanup_failed", map[string]any{"sessionId": session.ID, "error": endErr.Error()})
		}
		return ImpersonationGrant{}, fmt.Errorf("impersonation: mint token: %w", err)
	}

	s.record(ctx, cmd.Actor, AuditLogRecord{
		Action:    "impersonation.start",
		TargetRef: userTargetRef(targetUID),
		Severity:  severityWarn,
		Reason:    reason,
		Metadata: map[string]any{
			"sessionId": session.ID,
			"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		},
	})
	s.log(ctx, "impersonation.started", map[string]any{"sessionId": session.ID, "adminUid": adminUID, "targetUid": targetUID})
	return ImpersonationGrant{Session: session, CustomToken: token}, nil
}

func (s *impersonationService) EndImpersonation(ctx context.Context, cmd EndImpersonationCommand) (ImpersonationSession, error) {
	id := strings.TrimSpace(cmd.SessionID)
	if id == "" {
		return ImpersonationSession{}, fmt.Errorf("%w: session id is required", ErrImpersonationInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor.ActorID)
	if actor == "" {
		actor = systemActorID
	}
	session, err := s.sessions.End(ctx, id, s.now(), actor)
	if err != nil {
		if isRepoNotFound(err) {
			return ImpersonationSession{}, ErrImpersonationNotFound
		}
		return ImpersonationSession{}, fmt.Errorf("impersonation: end session: %w", err)
	}
	if session.EndedBy == actor {
		s.record(ctx, cmd.Actor, AuditLogRecord{
			Action:    "impersonation.end",
			TargetRef: userTargetRef(session.TargetUID),
			Severity:  severityInfo,
			Metadata:  map[string]any{"sessionId": session.ID},
		})
	}
	return session, nil
}

func (s *impersonationService) ListImpersonations(ctx context.Context, filter ImpersonationListFilter) (domain.CursorPage[ImpersonationSession], error) {
	page, err := s.sessions.List(ctx, repositories.ImpersonationFilter{
		AdminUID:   strings.TrimSpace(filter.AdminUID),
		TargetUID:  strings.TrimSpace(filter.TargetUID),
		ActiveOnly: filter.ActiveOnly,
		Now:        s.now(),
		Pagination: clampPage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[ImpersonationSession]{}, fmt.Errorf("impersonation: list: %w", err)
	}
	return page, nil
}

// CheckImpersonation confirms the session is live and was issued by adminUID for targetUID.
func (s *impersonationService) CheckImpersonation(ctx context.Context, sessionID, adminUID, targetUID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrImpersonationInactive
	}
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrImpersonationInactive
		}
		return fmt.Errorf("impersonation: load session: %w", err)
	}
	if session.AdminUID != adminUID || session.TargetUID != targetUID {
		return ErrImpersonationInactive
	}
	if !session.Active(s.now()) {
		return ErrImpersonationInactive
	}
	return nil
}

// ExpireStale ends sessions past their expiry and returns how many were closed.
func (s *impersonationService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	for {
		batch, err := s.sessions.ListExpired(ctx, now, expireBatchSize)
		if err != nil {
			return expired, fmt.Errorf("impersonation: list expired: %w", err)
		}
		for _, session := range batch {
			if _, err := s.sessions.End(ctx, session.ID, session.ExpiresAt, systemActorID); err != nil {
				return expired, fmt.Errorf("impersonation: expire %s: %w", session.ID, err)
			}
			expired++
		}
		if len(batch) < expireBatchSize {
			break
		}
	}
	if expired > 0 {
		s.log(ctx, "impersonation.expired", map[string]any{"count": expired})
	}
	return expired, nil
}

func (s *impersonationService) record(ctx context.Context, actor ActorContext, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	if actor.ActorType == "" {
		actor.ActorType = actorTypeStaff
	}
	s.audit.Record(ctx, auditFromActor(actor, record))
}
