// Package outbound defines the outbound port interfaces for talking to
// the hosted backend (auth endpoint and data REST API).
package outbound

import (
	"context"
	"time"
)

// RemoteUser is the user record as reported by the auth endpoint.
type RemoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	// EmailConfirmedAt is nil while the account's email is unverified.
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

// RemoteSession is the token bundle returned by the auth endpoint.
// ExpiresAt is an epoch value of ambiguous unit (seconds or milliseconds
// depending on the endpoint); callers normalize it.
type RemoteSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

// AuthResult is the {user, session} pair produced by authentication calls.
// Session is nil when the endpoint created an account that still requires
// email confirmation.
type AuthResult struct {
	User    *RemoteUser
	Session *RemoteSession
}

// AuthAPI is the outbound port for the remote authentication endpoint.
// The adapter maps the service's {data, error} response convention onto
// (result, error) returns; an error payload surfaces as *supabase.APIError.
type AuthAPI interface {
	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error)

	// SignUp registers a new account. When the service requires email
	// confirmation the result carries a user but no session.
	SignUp(ctx context.Context, email, password string) (*AuthResult, error)

	// SignOut revokes the session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error

	// RefreshSession exchanges a refresh token for a new session.
	RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error)

	// GetUser fetches the user record behind accessToken.
	GetUser(ctx context.Context, accessToken string) (*RemoteUser, error)

	// ResetPasswordForEmail triggers the password-recovery email flow.
	ResetPasswordForEmail(ctx context.Context, email string) error
}
