package vault

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

func setupPostgresVault(t *testing.T) *PostgresVault {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	v, err := NewPostgresVault(pool)
	require.NoError(t, err)
	require.NoError(t, v.Migrate(ctx))
	return v
}

func TestPostgresVault(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL test in short mode")
	}

	v := setupPostgresVault(t)
	ctx := context.Background()

	_, err := v.LoadSession(ctx, "artist-1", platform.AppleMusic)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	blob, err := EncodeSession(testSession())
	require.NoError(t, err)
	require.NoError(t, v.StoreSession(ctx, "artist-1", platform.DistroKid, blob, "98765"))

	got, err := v.LoadSession(ctx, "artist-1", platform.DistroKid)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Reconnecting replaces the credentials and keeps the account id.
	require.NoError(t, v.StoreSession(ctx, "artist-1", platform.DistroKid, `{"cookies":"sid=new"}`, ""))
	got, err = v.LoadSession(ctx, "artist-1", platform.DistroKid)
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":"sid=new"}`, got)

	var accountID, stored string
	err = v.db.QueryRow(ctx,
		`SELECT external_account_id, platform FROM platform_connection WHERE artist_id = $1`, "artist-1").
		Scan(&accountID, &stored)
	require.NoError(t, err)
	assert.Equal(t, "98765", accountID)
	assert.Equal(t, "DISTROKID", stored)

	require.NoError(t, v.DeleteSession(ctx, "artist-1", platform.DistroKid))
	_, err = v.LoadSession(ctx, "artist-1", platform.DistroKid)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewPostgresVaultNilDatabase(t *testing.T) {
	_, err := NewPostgresVault(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database connection cannot be nil")
}
