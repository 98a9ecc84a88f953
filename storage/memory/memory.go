package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gatehouse-auth/gatehouse/scope"
	"github.com/gatehouse-auth/gatehouse/storage"
)

// sessionKey identifies the single refresh session an app holds for a user.
type sessionKey struct {
	userID uuid.UUID
	appID  uuid.UUID
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	users     map[uuid.UUID]*storage.User
	usernames map[string]uuid.UUID
	discord   map[uint64]uuid.UUID

	apps map[uuid.UUID]*storage.App

	// Refresh sessions are indexed both ways: by bearer token for lookup
	// and by (user, app) so a new grant can displace the previous one.
	sessions       map[string]*storage.RefreshSession
	sessionsByPair map[sessionKey]string

	loginSessions map[uuid.UUID]*storage.LoginSession

	now func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		users:           make(map[uuid.UUID]*storage.User),
		usernames:       make(map[string]uuid.UUID),
		discord:         make(map[uint64]uuid.UUID),
		apps:            make(map[uuid.UUID]*storage.App),
		sessions:        make(map[string]*storage.RefreshSession),
		sessionsByPair:  make(map[sessionKey]string),
		loginSessions:   make(map[uuid.UUID]*storage.LoginSession),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()
	return s
}

// SetLogger replaces the store's logger. A nil logger restores the default.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetClock replaces the time source. Tests use this to drive expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close stops the background cleanup goroutine.
func (s *Store) Close() {
	close(s.stopCleanup)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired drops expired refresh and login sessions. Lookups already
// treat expired rows as absent; this just reclaims memory.
func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for tok, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, tok)
			delete(s.sessionsByPair, sessionKey{userID: sess.UserID, appID: sess.AppID})
			removed++
		}
	}
	for id, sess := range s.loginSessions {
		if now.After(sess.ExpiresAt) {
			delete(s.loginSessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired sessions", "count", removed)
	}
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	if _, taken := s.usernames[user.Username]; taken {
		return fmt.Errorf("username %q already taken", user.Username)
	}
	if user.DiscordID != nil {
		if _, linked := s.discord[*user.DiscordID]; linked {
			return fmt.Errorf("discord id already linked to another user")
		}
	}

	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	if u.DiscordID != nil {
		s.discord[*u.DiscordID] = u.ID
	}
	return nil
}

// UserByID retrieves a user by primary id.
func (s *Store) UserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := *user
	return &u, nil
}

// UserByUsername retrieves a user by username.
func (s *Store) UserByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// FindOrCreateByDiscordID returns the user linked to the external id,
// creating one on first sight.
func (s *Store) FindOrCreateByDiscordID(_ context.Context, discordID uint64, name string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.discord[discordID]; ok {
		u := *s.users[id]
		return &u, nil
	}

	username := name
	if _, taken := s.usernames[username]; taken {
		username = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	}

	external := discordID
	u := &storage.User{
		ID:        uuid.New(),
		Username:  username,
		DiscordID: &external,
		CreatedAt: s.now(),
	}
	s.users[u.ID] = u
	s.usernames[u.Username] = u.ID
	s.discord[discordID] = u.ID

	s.logger.Info("Created user from external identity", "user_id", u.ID)

	out := *u
	return &out, nil
}

// UpdatePassword replaces the stored bcrypt hash.
func (s *Store) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

// UpdateEmail replaces the stored email. An empty value clears it.
func (s *Store) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.Email = email
	return nil
}

// SaveApp inserts or updates an app registration.
func (s *Store) SaveApp(_ context.Context, app *storage.App) error {
	if app == nil {
		return fmt.Errorf("app cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := *app
	s.apps[a.ID] = &a
	return nil
}

// AppByID retrieves an app by client id.
func (s *Store) AppByID(_ context.Context, id uuid.UUID) (*storage.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	a := *app
	return &a, nil
}

// InsertOrRefresh issues a fresh bearer token for the (user, app) pair,
// displacing any existing session under the lock in one step.
func (s *Store) InsertOrRefresh(_ context.Context, userID, appID uuid.UUID, scopes scope.Set) (string, error) {
	tok := oauth2.GenerateVerifier()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{userID: userID, appID: appID}
	if prev, ok := s.sessionsByPair[key]; ok {
		delete(s.sessions, prev)
	}

	s.sessions[tok] = &storage.RefreshSession{
		Token:     tok,
		UserID:    userID,
		AppID:     appID,
		Scopes:    scopes.Clone(),
		ExpiresAt: s.now().Add(storage.RefreshSessionTTL),
	}
	s.sessionsByPair[key] = tok
	return tok, nil
}

// FindByToken returns the session for the token if it has not expired.
func (s *Store) FindByToken(_ context.Context, tok string) (*storage.RefreshSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tok]
	if !ok || s.now().After(sess.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	out := *sess
	out.Scopes = sess.Scopes.Clone()
	return &out, nil
}

// CreateLoginSession opens a first-party session for the user.
func (s *Store) CreateLoginSession(_ context.Context, userID uuid.UUID) (*storage.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &storage.LoginSession{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: s.now().Add(storage.LoginSessionTTL),
	}
	s.loginSessions[sess.ID] = sess

	out := *sess
	return &out, nil
}

// LoginSessionByID returns the session if it has not expired.
func (s *Store) LoginSessionByID(_ context.Context, id uuid.UUID) (*storage.LoginSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.loginSessions[id]
	if !ok || s.now().After(sess.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	out := *sess
	return &out, nil
}

// DeleteLoginSession removes a session. Deleting an unknown session is not an
// error.
func (s *Store) DeleteLoginSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.loginSessions, id)
	return nil
}
