package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/flowix-ar/storefront/internal/platform/config"
)

var errFirebaseNotInitialised = errors.New("auth: firebase admin not initialised")

// FirebaseAdmin wraps the Admin SDK auth client for token verification and account management.
type FirebaseAdmin struct {
	client       *firebaseauth.Client
	timeout      time.Duration
	checkRevoked bool
}

// FirebaseOption customises FirebaseAdmin instances.
type FirebaseOption func(*FirebaseAdmin)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(a *FirebaseAdmin) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRevocationCheck makes token verification also reject revoked tokens and disabled accounts.
func WithRevocationCheck() FirebaseOption {
	return func(a *FirebaseAdmin) {
		a.checkRevoked = true
	}
}

// NewFirebaseAdmin constructs a FirebaseAdmin backed by the Admin SDK.
func NewFirebaseAdmin(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseAdmin, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	admin := &FirebaseAdmin{
		client:  authClient,
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(admin)
		}
	}
	return admin, nil
}

// VerifyIDToken verifies a Firebase ID token using a bounded context.
func (a *FirebaseAdmin) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if a == nil || a.client == nil {
		return nil, errFirebaseNotInitialised
	}
	ctx, cancel := a.contextWithTimeout(ctx)
	defer cancel()

	if a.checkRevoked {
		return a.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	}
	return a.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads a Firebase user record for the given UID.
func (a *FirebaseAdmin) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if a == nil || a.client == nil {
		return nil, errFirebaseNotInitialised
	}
	ctx, cancel := a.contextWithTimeout(ctx)
	defer cancel()
	return a.client.GetUser(ctx, uid)
}

// SetDisabled toggles the disabled flag. Disabling also revokes refresh tokens so open sessions end.
func (a *FirebaseAdmin) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	if a == nil || a.client == nil {
		return errFirebaseNotInitialised
	}
	ctx, cancel := a.contextWithTimeout(ctx)
	defer cancel()

	update := (&firebaseauth.UserToUpdate{}).Disabled(disabled)
	if _, err := a.client.UpdateUser(ctx, uid, update); err != nil {
		return fmt.Errorf("update user %s: %w", uid, err)
	}
	if disabled {
		if err := a.client.RevokeRefreshTokens(ctx, uid); err != nil {
			return fmt.Errorf("revoke tokens %s: %w", uid, err)
		}
	}
	return nil
}

// SetRole writes the role custom claim while preserving any other claims on the account.
func (a *FirebaseAdmin) SetRole(ctx context.Context, uid string, role string) error {
	if a == nil || a.client == nil {
		return errFirebaseNotInitialised
	}
	ctx, cancel := a.contextWithTimeout(ctx)
	defer cancel()

	record, err := a.client.GetUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("load user %s: %w", uid, err)
	}
	claims := make(map[string]any, len(record.CustomClaims)+1)
	for k, v := range record.CustomClaims {
		claims[k] = v
	}
	role = normaliseRole(role)
	if role == "" {
		delete(claims, defaultRoleClaim)
	} else {
		claims[defaultRoleClaim] = role
	}
	return a.client.SetCustomUserClaims(ctx, uid, claims)
}

// CustomToken mints a custom sign-in token for uid carrying the provided developer claims.
func (a *FirebaseAdmin) CustomToken(ctx context.Context, uid string, claims map[string]any) (string, error) {
	if a == nil || a.client == nil {
		return "", errFirebaseNotInitialised
	}
	if strings.TrimSpace(uid) == "" {
		return "", errors.New("auth: uid is required")
	}
	ctx, cancel := a.contextWithTimeout(ctx)
	defer cancel()
	return a.client.CustomTokenWithClaims(ctx, uid, claims)
}

func (a *FirebaseAdmin) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
