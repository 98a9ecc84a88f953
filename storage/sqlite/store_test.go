package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-auth/gatehouse/scope"
	"github.com/gatehouse-auth/gatehouse/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "gatehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatehouse.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Reopening replays the migration check against an existing schema.
	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestUserRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &storage.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: "bcrypt-hash",
		Email:        "alice@example.com",
	}
	require.NoError(t, store.CreateUser(ctx, user))

	got, err := store.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Nil(t, got.DiscordID)
	assert.False(t, got.CreatedAt.IsZero())

	byName, err := store.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = store.UserByID(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserOptionalFieldsStayEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &storage.User{ID: uuid.New(), Username: "ghost"}
	require.NoError(t, store.CreateUser(ctx, user))

	got, err := store.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PasswordHash)
	assert.Empty(t, got.Email)
	assert.Nil(t, got.DiscordID)
}

func TestFindOrCreateByDiscordID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// High bit set, so the value crosses the signed-column boundary.
	const externalID = uint64(1)<<63 | 424242

	first, err := store.FindOrCreateByDiscordID(ctx, externalID, "bridged")
	require.NoError(t, err)
	require.NotNil(t, first.DiscordID)
	assert.Equal(t, externalID, *first.DiscordID)

	second, err := store.FindOrCreateByDiscordID(ctx, externalID, "bridged")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "replaying the same external id must not create a second user")
}

func TestFindOrCreateByDiscordID_UsernameCollision(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &storage.User{ID: uuid.New(), Username: "taken"}))

	created, err := store.FindOrCreateByDiscordID(ctx, 99, "taken")
	require.NoError(t, err)
	assert.NotEqual(t, "taken", created.Username)
	assert.Contains(t, created.Username, "taken")
}

func TestUpdatePasswordAndEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &storage.User{ID: uuid.New(), Username: "bob", Email: "bob@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))

	require.NoError(t, store.UpdatePassword(ctx, user.ID, "new-hash"))
	require.NoError(t, store.UpdateEmail(ctx, user.ID, ""))

	got, err := store.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Empty(t, got.Email, "empty email update clears the column")

	assert.ErrorIs(t, store.UpdatePassword(ctx, uuid.New(), "x"), storage.ErrNotFound)
	assert.ErrorIs(t, store.UpdateEmail(ctx, uuid.New(), "x"), storage.ErrNotFound)
}

func TestSaveAppUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	app := &storage.App{
		ID:             uuid.New(),
		Name:           "Example",
		Secret:         "s3cret",
		RedirectPrefix: "https://app.example.com/callback",
		Hidden:         true,
	}
	require.NoError(t, store.SaveApp(ctx, app))

	app.Name = "Example Renamed"
	require.NoError(t, store.SaveApp(ctx, app))

	got, err := store.AppByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Renamed", got.Name)
	assert.Equal(t, "s3cret", got.Secret)
	assert.True(t, got.Hidden)
	assert.True(t, got.OAuth2Enabled())

	_, err = store.AppByID(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertOrRefreshRotatesToken(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &storage.User{ID: uuid.New(), Username: "carol"}
	require.NoError(t, store.CreateUser(ctx, user))
	app := &storage.App{ID: uuid.New(), Name: "App", Secret: "s", RedirectPrefix: "https://app.example.com/"}
	require.NoError(t, store.SaveApp(ctx, app))

	scopes := scope.NewSet(scope.Basic, scope.Email)

	first, err := store.InsertOrRefresh(ctx, user.ID, app.ID, scopes)
	require.NoError(t, err)
	second, err := store.InsertOrRefresh(ctx, user.ID, app.ID, scopes)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = store.FindByToken(ctx, first)
	assert.ErrorIs(t, err, storage.ErrNotFound, "rotated token must stop resolving")

	sess, err := store.FindByToken(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)
	assert.Equal(t, app.ID, sess.AppID)
	assert.True(t, sess.Scopes.Equal(scopes))
}

func TestFindByTokenExpiry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	user := &storage.User{ID: uuid.New(), Username: "dave"}
	require.NoError(t, store.CreateUser(ctx, user))
	app := &storage.App{ID: uuid.New(), Name: "App", Secret: "s", RedirectPrefix: "https://app.example.com/"}
	require.NoError(t, store.SaveApp(ctx, app))

	tok, err := store.InsertOrRefresh(ctx, user.ID, app.ID, scope.NewSet(scope.Basic))
	require.NoError(t, err)

	current = base.Add(storage.RefreshSessionTTL - time.Hour)
	_, err = store.FindByToken(ctx, tok)
	require.NoError(t, err)

	current = base.Add(storage.RefreshSessionTTL + time.Hour)
	_, err = store.FindByToken(ctx, tok)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoginSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &storage.User{ID: uuid.New(), Username: "erin"}
	require.NoError(t, store.CreateUser(ctx, user))

	sess, err := store.CreateLoginSession(ctx, user.ID)
	require.NoError(t, err)

	got, err := store.LoginSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	require.NoError(t, store.DeleteLoginSession(ctx, sess.ID))
	_, err = store.LoginSessionByID(ctx, sess.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting again is not an error.
	require.NoError(t, store.DeleteLoginSession(ctx, sess.ID))
}

func TestCleanupExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	user := &storage.User{ID: uuid.New(), Username: "frank"}
	require.NoError(t, store.CreateUser(ctx, user))
	app := &storage.App{ID: uuid.New(), Name: "App", Secret: "s", RedirectPrefix: "https://app.example.com/"}
	require.NoError(t, store.SaveApp(ctx, app))

	_, err := store.InsertOrRefresh(ctx, user.ID, app.ID, scope.NewSet(scope.Basic))
	require.NoError(t, err)
	_, err = store.CreateLoginSession(ctx, user.ID)
	require.NoError(t, err)

	current = base.Add(storage.RefreshSessionTTL + time.Hour)
	require.NoError(t, store.CleanupExpired(ctx))

	var refreshCount, loginCount int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM refresh_sessions;").Scan(&refreshCount))
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM login_sessions;").Scan(&loginCount))
	assert.Zero(t, refreshCount)
	assert.Zero(t, loginCount)
}
