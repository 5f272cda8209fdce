// Package resolver abstracts platform display-name lookup. Resolution is an
// external capability that may fail or be absent entirely; callers use the
// *Or helpers to degrade to the raw identifier.
package resolver

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by implementations that cannot resolve names
// at all (e.g. the platform connection is down).
var ErrUnavailable = errors.New("resolver: unavailable")

// Resolver looks up human-readable display names for platform entities.
type Resolver interface {
	// UserName returns the display name for a user within a scope.
	UserName(ctx context.Context, platform, scope, userID string) (string, error)

	// ScopeName returns the display name for a scope.
	ScopeName(ctx context.Context, platform, scope string) (string, error)
}

// UserNameOr resolves a user name, falling back to the raw identifier on
// any resolution failure.
func UserNameOr(ctx context.Context, r Resolver, platform, scope, userID string) string {
	if r == nil {
		return userID
	}
	name, err := r.UserName(ctx, platform, scope, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

// ScopeNameOr resolves a scope name, falling back to the raw identifier on
// any resolution failure.
func ScopeNameOr(ctx context.Context, r Resolver, platform, scope string) string {
	if r == nil {
		return scope
	}
	name, err := r.ScopeName(ctx, platform, scope)
	if err != nil || name == "" {
		return scope
	}
	return name
}

// Static is a Resolver backed by fixed maps, keyed by "platform:scope:user"
// for users and "platform:scope" for scopes. Useful in tests and for small
// fixed deployments.
type Static struct {
	Users  map[string]string
	Scopes map[string]string
}

// Ensure Static satisfies the Resolver interface at compile time.
var _ Resolver = (*Static)(nil)

// UserName returns the configured name for the user, or ErrUnavailable.
func (s *Static) UserName(_ context.Context, platform, scope, userID string) (string, error) {
	if name, ok := s.Users[platform+":"+scope+":"+userID]; ok {
		return name, nil
	}
	return "", ErrUnavailable
}

// ScopeName returns the configured name for the scope, or ErrUnavailable.
func (s *Static) ScopeName(_ context.Context, platform, scope string) (string, error) {
	if name, ok := s.Scopes[platform+":"+scope]; ok {
		return name, nil
	}
	return "", ErrUnavailable
}
