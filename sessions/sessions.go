// Package sessions defines how the authorization server establishes the
// identity of the end user behind an authorization request.
//
// The server itself does not authenticate users. The host application
// supplies an Authenticator that resolves the incoming HTTP request to a
// Principal, typically from an existing session cookie or an upstream
// identity layer. The resolved Principal becomes the subject bound to
// issued authorization codes and tokens.
package sessions

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnauthenticated indicates the request carries no established session.
// Authenticator implementations return this when the user must sign in
// before the authorization flow can continue.
var ErrUnauthenticated = errors.New("no authenticated session")

// Principal is the authenticated end user behind an authorization request.
type Principal struct {
	// Subject is the stable unique identifier for the user (required)
	Subject string

	// Email is the user's email address, if known
	Email string

	// Name is the user's display name, if known
	Name string
}

// Authenticator resolves an HTTP request to an authenticated Principal.
//
// Implementations must not write to the response; the caller decides how
// to answer unauthenticated requests. Returning ErrUnauthenticated (or an
// error wrapping it) signals that no session exists. Any other error is
// treated as an internal failure.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*Principal, error)

// Authenticate implements Authenticator
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	return f(ctx, r)
}

// Static is an Authenticator that returns a fixed Principal for every
// request. It is intended for development and testing only.
type Static struct {
	Principal Principal
}

// Authenticate implements Authenticator
func (s *Static) Authenticate(_ context.Context, _ *http.Request) (*Principal, error) {
	if s.Principal.Subject == "" {
		return nil, ErrUnauthenticated
	}
	p := s.Principal
	return &p, nil
}

// Compile-time interface checks
var (
	_ Authenticator = (AuthenticatorFunc)(nil)
	_ Authenticator = (*Static)(nil)
)

// principalContextKey is the context key for storing the Principal
type principalContextKey struct{}

// ContextWithPrincipal returns a context carrying the given Principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the Principal from the context, if present.
// Handlers behind token validation middleware use this to identify the caller.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}
