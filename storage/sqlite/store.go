// Package sqlite implements the storage interfaces over a single SQLite file.
//
// A single database backs identity state so every subflow (login sessions,
// refresh sessions, app lookups) shares the same visibility boundaries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"github.com/gatehouse-auth/gatehouse/scope"
	"github.com/gatehouse-auth/gatehouse/storage"
	"github.com/gatehouse-auth/gatehouse/storage/sqlite/migrations"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements identity persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store and applies bundled migrations. Startup and
// schema evolution stay in one place instead of requiring callers to
// coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		now:   time.Now,
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB returns the raw database handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// SetClock replaces the time source. Tests use this to drive expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

const insertUserQuery = `
INSERT INTO users (id, username, password_hash, email, discord_id, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`

const selectUserQuery = `
SELECT id, username, password_hash, email, discord_id, created_at
FROM users
`

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.sqlDB.ExecContext(ctx, insertUserQuery,
		user.ID.String(),
		user.Username,
		nullString(user.PasswordHash),
		nullString(user.Email),
		nullDiscordID(user.DiscordID),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByID retrieves a user by primary id.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectUserQuery+"WHERE id = ?;", id.String())
	return scanUser(row)
}

// UserByUsername retrieves a user by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*storage.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectUserQuery+"WHERE username = ?;", username)
	return scanUser(row)
}

// FindOrCreateByDiscordID returns the user linked to the external id,
// creating one on first sight. The lookup and insert run in one transaction
// so concurrent calls for the same id cannot create two accounts; the UNIQUE
// constraint on discord_id backs the invariant at the schema level.
func (s *Store) FindOrCreateByDiscordID(ctx context.Context, discordID uint64, name string) (*storage.User, error) {
	stored := storage.EncodeDiscordID(discordID)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectUserQuery+"WHERE discord_id = ?;", stored)
	user, err := scanUser(row)
	if err == nil {
		return user, tx.Commit()
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	username := name
	var taken int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?;", username).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken > 0 {
		username = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	}

	external := discordID
	created := &storage.User{
		ID:        uuid.New(),
		Username:  username,
		DiscordID: &external,
		CreatedAt: s.now(),
	}
	if _, err := tx.ExecContext(ctx, insertUserQuery,
		created.ID.String(),
		created.Username,
		nil,
		nil,
		stored,
		toMillis(created.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// UpdatePassword replaces the stored bcrypt hash.
func (s *Store) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ?;",
		nullString(passwordHash), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

// UpdateEmail replaces the stored email. An empty value clears it.
func (s *Store) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		"UPDATE users SET email = ? WHERE id = ?;",
		nullString(email), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return requireRow(res)
}

const upsertAppQuery = `
INSERT INTO apps (id, name, secret, redirect_prefix, description, hidden)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    secret = excluded.secret,
    redirect_prefix = excluded.redirect_prefix,
    description = excluded.description,
    hidden = excluded.hidden;
`

// SaveApp inserts or updates an app registration.
func (s *Store) SaveApp(ctx context.Context, app *storage.App) error {
	if app == nil {
		return fmt.Errorf("app cannot be nil")
	}

	_, err := s.sqlDB.ExecContext(ctx, upsertAppQuery,
		app.ID.String(),
		app.Name,
		nullString(app.Secret),
		app.RedirectPrefix,
		app.Description,
		boolToInt(app.Hidden),
	)
	if err != nil {
		return fmt.Errorf("save app: %w", err)
	}
	return nil
}

// AppByID retrieves an app by client id.
func (s *Store) AppByID(ctx context.Context, id uuid.UUID) (*storage.App, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, name, secret, redirect_prefix, description, hidden FROM apps WHERE id = ?;",
		id.String(),
	)

	var (
		app    storage.App
		rawID  string
		secret sql.NullString
		hidden int
	)
	err := row.Scan(&rawID, &app.Name, &secret, &app.RedirectPrefix, &app.Description, &hidden)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan app: %w", err)
	}

	app.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse app id: %w", err)
	}
	app.Secret = secret.String
	app.Hidden = hidden != 0
	return &app, nil
}

const upsertSessionQuery = `
INSERT INTO refresh_sessions (user_id, app_id, token, scopes, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, app_id) DO UPDATE SET
    token = excluded.token,
    scopes = excluded.scopes,
    expires_at = excluded.expires_at;
`

// InsertOrRefresh issues a fresh bearer token for the (user, app) pair.
// The upsert is a single statement, so a concurrent exchange for the same
// pair can never leave two live sessions behind.
func (s *Store) InsertOrRefresh(ctx context.Context, userID, appID uuid.UUID, scopes scope.Set) (string, error) {
	tok := oauth2.GenerateVerifier()

	_, err := s.sqlDB.ExecContext(ctx, upsertSessionQuery,
		userID.String(),
		appID.String(),
		tok,
		scopes.String(),
		toMillis(s.now().Add(storage.RefreshSessionTTL)),
	)
	if err != nil {
		return "", fmt.Errorf("upsert refresh session: %w", err)
	}
	return tok, nil
}

// FindByToken returns the session for the token if it has not expired.
// The expiry cutoff lives in the query, so expired rows never leave the
// database layer.
func (s *Store) FindByToken(ctx context.Context, tok string) (*storage.RefreshSession, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT user_id, app_id, token, scopes, expires_at FROM refresh_sessions WHERE token = ? AND expires_at > ?;",
		tok, toMillis(s.now()),
	)

	var (
		sess      storage.RefreshSession
		rawUser   string
		rawApp    string
		rawScopes string
		expiresAt int64
	)
	err := row.Scan(&rawUser, &rawApp, &sess.Token, &rawScopes, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh session: %w", err)
	}

	if sess.UserID, err = uuid.Parse(rawUser); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if sess.AppID, err = uuid.Parse(rawApp); err != nil {
		return nil, fmt.Errorf("parse app id: %w", err)
	}
	if sess.Scopes, err = scope.ParseSet(rawScopes); err != nil {
		return nil, fmt.Errorf("parse scopes: %w", err)
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	return &sess, nil
}

// CreateLoginSession opens a first-party session for the user.
func (s *Store) CreateLoginSession(ctx context.Context, userID uuid.UUID) (*storage.LoginSession, error) {
	sess := &storage.LoginSession{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: s.now().Add(storage.LoginSessionTTL),
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO login_sessions (id, user_id, expires_at) VALUES (?, ?, ?);",
		sess.ID.String(), sess.UserID.String(), toMillis(sess.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert login session: %w", err)
	}
	return sess, nil
}

// LoginSessionByID returns the session if it has not expired.
func (s *Store) LoginSessionByID(ctx context.Context, id uuid.UUID) (*storage.LoginSession, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, user_id, expires_at FROM login_sessions WHERE id = ? AND expires_at > ?;",
		id.String(), toMillis(s.now()),
	)

	var (
		sess      storage.LoginSession
		rawID     string
		rawUser   string
		expiresAt int64
	)
	err := row.Scan(&rawID, &rawUser, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan login session: %w", err)
	}

	if sess.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	if sess.UserID, err = uuid.Parse(rawUser); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	return &sess, nil
}

// DeleteLoginSession removes a session. Deleting an unknown session is not an
// error.
func (s *Store) DeleteLoginSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM login_sessions WHERE id = ?;", id.String(),
	)
	if err != nil {
		return fmt.Errorf("delete login session: %w", err)
	}
	return nil
}

// CleanupExpired drops expired refresh and login sessions. Lookups already
// exclude expired rows; this reclaims space and is meant for a periodic
// maintenance call.
func (s *Store) CleanupExpired(ctx context.Context) error {
	cutoff := toMillis(s.now())
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM refresh_sessions WHERE expires_at <= ?;", cutoff); err != nil {
		return fmt.Errorf("cleanup refresh sessions: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM login_sessions WHERE expires_at <= ?;", cutoff); err != nil {
		return fmt.Errorf("cleanup login sessions: %w", err)
	}
	return nil
}

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*storage.User, error) {
	var (
		user      storage.User
		rawID     string
		password  sql.NullString
		email     sql.NullString
		discordID sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&rawID, &user.Username, &password, &email, &discordID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	user.PasswordHash = password.String
	user.Email = email.String
	if discordID.Valid {
		external := storage.DecodeDiscordID(discordID.Int64)
		user.DiscordID = &external
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullDiscordID(id *uint64) any {
	if id == nil {
		return nil
	}
	return storage.EncodeDiscordID(*id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
