package gatehouse

import (
	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/scope"
)

// AuthorizationGrant is the payload sealed inside an authorization code.
// The exact redirect URI travels with the grant so the token endpoint can
// re-validate it at exchange time.
type AuthorizationGrant struct {
	UserID      uuid.UUID `json:"user_id"`
	AppID       uuid.UUID `json:"app_id"`
	Scopes      scope.Set `json:"scopes"`
	RedirectURI string    `json:"redirect_uri"`
}

// AccessGrant is the payload sealed inside a Bearer access token.
type AccessGrant struct {
	UserID uuid.UUID `json:"user_id"`
	AppID  uuid.UUID `json:"app_id"`
	Scopes scope.Set `json:"scopes"`
}

// AuthorizeRequest carries the parameters of an authorization request after
// the HTTP layer has resolved the login session to a user.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	UserID       uuid.UUID
}

// AuthorizeResult is everything the consent view needs, plus the minted code.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
	AppName     string
	Scopes      scope.Set
	// RedirectHost is the short host form of the redirect target shown to
	// the user ("app.example.com", not the full URI).
	RedirectHost string
}

// TokenRequest carries the parameters of a token endpoint call. Client
// credentials may arrive via HTTP Basic or via form fields; the engine
// rejects requests that use both.
type TokenRequest struct {
	GrantType string

	Code         string
	RefreshToken string
	RedirectURI  string

	FormClientID      string
	FormClientSecret  string
	BasicClientID     string
	BasicClientSecret string
}

// TokenResponse represents an OAuth 2.0 token response.
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (omitted when the session write failed)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the scope of the access token
	Scope string `json:"scope,omitempty"`
}

// UserInfo is the resource payload served for a valid access token. The wire
// keys follow the OIDC claim names: sub for the user id, name for the
// username. Email is present only when the token carries the email scope and
// the user has an email on file.
type UserInfo struct {
	ID       uuid.UUID `json:"sub"`
	Username string    `json:"name"`
	Email    string    `json:"email,omitempty"`
}

// ErrorResponse represents a JSON error response body.
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
