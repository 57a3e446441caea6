package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/platform/textutil"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	loginTouchInterval     = time.Minute
	maxDisplayNameLength   = 120
	auditActionUserDisable = "user.disable"
	auditActionUserEnable  = "user.enable"
	auditActionUserRole    = "user.role.set"
)

var (
	// ErrUserInvalidInput signals the caller provided invalid data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the profile could not be located.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserSelfModification indicates an admin tried to disable or demote their own account.
	ErrUserSelfModification = errors.New("user: cannot modify own account")
	// ErrUserAuthUnavailable indicates no identity provider admin client is configured.
	ErrUserAuthUnavailable = errors.New("user: auth admin not configured")
)

// UserServiceDeps wires the user service.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Auth   UserAuthAdmin
	Audit  AuditLogService
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users repositories.UserRepository
	auth  UserAuthAdmin
	audit AuditLogService
	now   func() time.Time
	log   eventLogger
}

// NewUserService constructs a UserService.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	return &userService{
		users: deps.Users,
		auth:  deps.Auth,
		audit: deps.Audit,
		now:   utcClock(deps.Clock),
		log:   newLogger(deps.Logger),
	}, nil
}

func (s *userService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (UserProfile, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return UserProfile{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	role := normalizeUserRole(cmd.Role)
	if role == "" {
		role = domain.UserRoleMerchant
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	displayName := strings.TrimSpace(cmd.DisplayName)
	if runeLen(displayName) > maxDisplayNameLength {
		displayName = string([]rune(displayName)[:maxDisplayNameLength])
	}

	now := s.now()
	profile, err := s.users.Get(ctx, uid)
	switch {
	case err == nil:
		changed := false
		if email != "" && profile.Email != email {
			profile.Email = email
			changed = true
		}
		if displayName != "" && profile.DisplayName != displayName {
			profile.DisplayName = displayName
			changed = true
		}
		if profile.Role != role {
			profile.Role = role
			changed = true
		}
		if !changed && profile.LastLoginAt != nil && now.Sub(*profile.LastLoginAt) < loginTouchInterval {
			return profile, nil
		}
	case isRepoNotFound(err):
		profile = UserProfile{
			ID:          uid,
			Email:       email,
			DisplayName: displayName,
			Role:        role,
			CreatedAt:   now,
		}
		s.log(ctx, "user.profile_created", map[string]any{"uid": uid})
	default:
		return UserProfile{}, fmt.Errorf("user: load profile: %w", err)
	}

	profile.LastLoginAt = &now
	profile.UpdatedAt = now
	if err := s.users.Upsert(ctx, profile); err != nil {
		return UserProfile{}, fmt.Errorf("user: save profile: %w", err)
	}
	return profile, nil
}

func (s *userService) ListUsers(ctx context.Context, filter UserListFilter) (domain.CursorPage[UserProfile], error) {
	var role UserRole
	if strings.TrimSpace(string(filter.Role)) != "" {
		if role = normalizeUserRole(filter.Role); role == "" {
			return domain.CursorPage[UserProfile]{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, filter.Role)
		}
	}
	page, err := s.users.List(ctx, repositories.UserFilter{
		Role:       role,
		Prefix:     textutil.SearchKey(filter.Query),
		Pagination: clampPage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[UserProfile]{}, fmt.Errorf("user: list: %w", err)
	}
	return page, nil
}

func (s *userService) GetUser(ctx context.Context, uid string) (UserProfile, error) {
	id := strings.TrimSpace(uid)
	if id == "" {
		return UserProfile{}, fmt.Errorf("%w: uid is required", ErrUserInvalidInput)
	}
	profile, err := s.users.Get(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return UserProfile{}, ErrUserNotFound
		}
		return UserProfile{}, fmt.Errorf("user: get: %w", err)
	}
	return profile, nil
}

func (s *userService) SetUserDisabled(ctx context.Context, cmd SetUserDisabledCommand) (UserProfile, error) {
	if s.auth == nil {
		return UserProfile{}, ErrUserAuthUnavailable
	}
	profile, err := s.GetUser(ctx, cmd.UID)
	if err != nil {
		return UserProfile{}, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if cmd.Disabled && reason == "" {
		return UserProfile{}, fmt.Errorf("%w: reason is required", ErrUserInvalidInput)
	}
	if cmd.Disabled && strings.TrimSpace(cmd.Actor.ActorID) == profile.ID {
		return UserProfile{}, ErrUserSelfModification
	}
	if profile.Disabled == cmd.Disabled {
		return profile, nil
	}

	if err := s.auth.SetDisabled(ctx, profile.ID, cmd.Disabled); err != nil {
		return UserProfile{}, fmt.Errorf("user: update auth account: %w", err)
	}
	before := profile.Disabled
	profile.Disabled = cmd.Disabled
	profile.UpdatedAt = s.now()
	if err := s.users.Upsert(ctx, profile); err != nil {
		return UserProfile{}, fmt.Errorf("user: save profile: %w", err)
	}

	action := auditActionUserEnable
	severity := severityInfo
	if cmd.Disabled {
		action = auditActionUserDisable
		severity = severityWarn
	}
	s.record(ctx, cmd.Actor, AuditLogRecord{
		Action:                action,
		TargetRef:             userTargetRef(profile.ID),
		Severity:              severity,
		Reason:                reason,
		Diff:                  map[string]AuditLogDiff{"disabled": {Before: before, After: cmd.Disabled}},
		Metadata:              map[string]any{"email": profile.Email},
		SensitiveMetadataKeys: []string{"email"},
	})
	return profile, nil
}

func (s *userService) SetUserRole(ctx context.Context, cmd SetUserRoleCommand) (UserProfile, error) {
	if s.auth == nil {
		return UserProfile{}, ErrUserAuthUnavailable
	}
	role := normalizeUserRole(cmd.Role)
	if role == "" {
		return UserProfile{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, cmd.Role)
	}
	profile, err := s.GetUser(ctx, cmd.UID)
	if err != nil {
		return UserProfile{}, err
	}
	if strings.TrimSpace(cmd.Actor.ActorID) == profile.ID && role != domain.UserRoleSuperAdmin {
		return UserProfile{}, ErrUserSelfModification
	}
	if profile.Role == role {
		return profile, nil
	}

	if err := s.auth.SetRole(ctx, profile.ID, string(role)); err != nil {
		return UserProfile{}, fmt.Errorf("user: set role claim: %w", err)
	}
	before := profile.Role
	profile.Role = role
	profile.UpdatedAt = s.now()
	if err := s.users.Upsert(ctx, profile); err != nil {
		return UserProfile{}, fmt.Errorf("user: save profile: %w", err)
	}

	s.record(ctx, cmd.Actor, AuditLogRecord{
		Action:    auditActionUserRole,
		TargetRef: userTargetRef(profile.ID),
		Severity:  severityWarn,
		Diff:      map[string]AuditLogDiff{"role": {Before: string(before), After: string(role)}},
	})
	return profile, nil
}

func (s *userService) record(ctx context.Context, actor ActorContext, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	if actor.ActorType == "" {
		actor.ActorType = actorTypeStaff
	}
	s.audit.Record(ctx, auditFromActor(actor, record))
}

func normalizeUserRole(role UserRole) UserRole {
	switch UserRole(strings.ToLower(strings.TrimSpace(string(role)))) {
	case domain.UserRoleMerchant:
		return domain.UserRoleMerchant
	case domain.UserRoleSuperAdmin, "super_admin", "super-admin":
		return domain.UserRoleSuperAdmin
	}
	return ""
}

func userTargetRef(uid string) string {
	return "/users/" + uid
}
