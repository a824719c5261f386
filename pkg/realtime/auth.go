package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, invalid or expired credentials.
var ErrUnauthorized = errors.New("unauthorized")

// UserResolver maps an authenticated JWT subject to its organization scope. A
// nil organization ID means the user is unscoped and sees every tracker.
type UserResolver interface {
	ResolveOrganization(ctx context.Context, subject string) (*int64, error)
}

// Authenticator validates handshake tokens.
type Authenticator struct {
	secret []byte
	users  UserResolver
}

// NewAuthenticator creates an authenticator over an HMAC signing secret.
func NewAuthenticator(secret []byte, users UserResolver) *Authenticator {
	return &Authenticator{secret: secret, users: users}
}

// Authenticate validates the token and resolves the subject's organization.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (subject string, orgID *int64, err error) {
	if token == "" {
		return "", nil, fmt.Errorf("empty token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", nil, fmt.Errorf("parse token: %w: %w", ErrUnauthorized, err)
	}

	subject, err = parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", nil, fmt.Errorf("token has no subject: %w", ErrUnauthorized)
	}

	orgID, err = a.users.ResolveOrganization(ctx, subject)
	if err != nil {
		return "", nil, fmt.Errorf("resolve organization for %s: %w", subject, err)
	}
	return subject, orgID, nil
}

// StaticUserResolver maps subjects to organizations from a fixed table. For
// tests and single-tenant deployments.
type StaticUserResolver struct {
	orgs map[string]*int64
}

// NewStaticUserResolver creates a resolver from a subject to organization
// table. Subjects absent from the table are rejected.
func NewStaticUserResolver(orgs map[string]*int64) *StaticUserResolver {
	return &StaticUserResolver{orgs: orgs}
}

// ResolveOrganization implements UserResolver.
func (r *StaticUserResolver) ResolveOrganization(_ context.Context, subject string) (*int64, error) {
	orgID, ok := r.orgs[subject]
	if !ok {
		return nil, fmt.Errorf("unknown user %s: %w", subject, ErrUnauthorized)
	}
	return orgID, nil
}
