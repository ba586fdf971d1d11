// Package auth provides the credential-acquisition collaborator consumed by
// a Client (spec.md §6): exchanging a username/password for an access token.
package auth

import (
	"context"

	"github.com/pkg/errors"
)

// Credentials is the result of a successful authorization.
type Credentials struct {
	AccessToken string
	UserID      string
}

// Authorizer exchanges a username/password for Credentials. Implementations
// may call out to a remote identity service; acquisition itself is out of
// scope (spec.md §1).
type Authorizer interface {
	Authorize(ctx context.Context, user, password string) (Credentials, error)
}

// ErrAuth is returned when authorization fails.
type ErrAuth struct {
	User string
}

func (e ErrAuth) Error() string {
	return "auth: authorization failed for " + e.User
}

// StaticAuthorizer always returns a fixed, pre-acquired token, for
// deployments where credential exchange happens out-of-band (e.g. a
// service account token read once at startup).
type StaticAuthorizer struct {
	Token  string
	UserID string
}

// Authorize returns the configured token, failing only if it was never set.
func (a StaticAuthorizer) Authorize(_ context.Context, user, _ string) (Credentials, error) {
	if a.Token == "" {
		return Credentials{}, errors.WithStack(ErrAuth{User: user})
	}
	return Credentials{AccessToken: a.Token, UserID: a.UserID}, nil
}
