// Package storage defines interfaces for persisting users, registered
// applications, refresh sessions, and first-party login sessions.
// It supports multiple backend implementations; in-memory and SQLite are
// provided.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/scope"
)

// ErrNotFound is returned by lookups when no live record matches.
// Expired sessions are reported as absent, not as a distinct state.
var ErrNotFound = errors.New("storage: not found")

const (
	// RefreshSessionTTL is the absolute lifetime of a refresh session.
	RefreshSessionTTL = 180 * 24 * time.Hour

	// LoginSessionTTL is the lifetime of a first-party login session.
	LoginSessionTTL = 14 * 24 * time.Hour
)

// User is an identity record. PasswordHash is a bcrypt hash and is empty for
// users that only ever authenticated through the identity bridge. Email is
// empty when the user has no email on file, which makes the email scope
// unsatisfiable for them. DiscordID is nil unless the account is linked to an
// external Discord identity; at most one user exists per external id.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Email        string
	DiscordID    *uint64
	CreatedAt    time.Time
}

// App is a registered client application. Secret is empty when OAuth2 is not
// enabled for the app; the authorization engine treats such apps as unknown
// clients. RedirectPrefix is the URI prefix every redirect target must extend.
type App struct {
	ID             uuid.UUID
	Name           string
	Secret         string
	RedirectPrefix string
	Description    string
	Hidden         bool
}

// OAuth2Enabled reports whether the app can take part in authorization flows.
func (a *App) OAuth2Enabled() bool {
	return a.Secret != ""
}

// IsRedirectAllowed reports whether uri may be used as a redirect target.
// The match is an exact, case-sensitive prefix match, and the registered
// prefix must be long enough to pin a scheme and host ("https://a.bc" is the
// shortest conceivable origin, so anything not longer is rejected outright).
func (a *App) IsRedirectAllowed(uri string) bool {
	return len(a.RedirectPrefix) > len("https://a.bc") && strings.HasPrefix(uri, a.RedirectPrefix)
}

// RefreshSession is a persistent grant letting an app mint new access tokens
// for a user. The opaque bearer token is the primary key; at most one session
// exists per (user, app) pair and a new grant replaces the previous one.
type RefreshSession struct {
	Token     string
	UserID    uuid.UUID
	AppID     uuid.UUID
	Scopes    scope.Set
	ExpiresAt time.Time
}

// LoginSession is a first-party session backing the login cookie.
type LoginSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// UserStore persists identity records.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// CreateUser inserts a new user record.
	CreateUser(ctx context.Context, user *User) error

	// UserByID retrieves a user by primary id.
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// UserByUsername retrieves a user by username.
	UserByUsername(ctx context.Context, username string) (*User, error)

	// FindOrCreateByDiscordID returns the user linked to the external id,
	// creating one with the given display name on first sight. Replaying
	// the same external id never creates a second account.
	FindOrCreateByDiscordID(ctx context.Context, discordID uint64, name string) (*User, error)

	// UpdatePassword replaces the stored bcrypt hash.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// UpdateEmail replaces the stored email. An empty value clears it.
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
}

// AppStore persists application registrations. The authorization engine only
// reads from it; writes exist so deployments can seed their fixed app set.
type AppStore interface {
	// SaveApp inserts or updates an app registration.
	SaveApp(ctx context.Context, app *App) error

	// AppByID retrieves an app by client id.
	AppByID(ctx context.Context, id uuid.UUID) (*App, error)
}

// SessionStore persists refresh sessions.
type SessionStore interface {
	// InsertOrRefresh issues a fresh opaque bearer token for the (user, app)
	// pair, replacing any existing session in a single atomic upsert. The
	// previous token, if any, stops resolving as a side effect.
	InsertOrRefresh(ctx context.Context, userID, appID uuid.UUID, scopes scope.Set) (string, error)

	// FindByToken returns the session for the token if it has not expired.
	// Expired rows are reported as ErrNotFound.
	FindByToken(ctx context.Context, tok string) (*RefreshSession, error)
}

// LoginSessionStore persists first-party login sessions.
type LoginSessionStore interface {
	// CreateLoginSession opens a session for the user.
	CreateLoginSession(ctx context.Context, userID uuid.UUID) (*LoginSession, error)

	// LoginSessionByID returns the session if it has not expired.
	LoginSessionByID(ctx context.Context, id uuid.UUID) (*LoginSession, error)

	// DeleteLoginSession removes a session (logout).
	DeleteLoginSession(ctx context.Context, id uuid.UUID) error
}

// Store aggregates every persistence concern the server needs. Backends
// implement it as a single unit so all subflows share one database.
type Store interface {
	UserStore
	AppStore
	SessionStore
	LoginSessionStore
}

// EncodeDiscordID maps an unsigned 64-bit external id onto a signed database
// column by reinterpreting the bit pattern. Ids above 2^63-1 land in the
// negative range; DecodeDiscordID reverses the mapping exactly, so the round
// trip is lossless for every input.
func EncodeDiscordID(id uint64) int64 {
	return int64(id)
}

// DecodeDiscordID restores the unsigned external id from its stored form.
func DecodeDiscordID(stored int64) uint64 {
	return uint64(stored)
}
