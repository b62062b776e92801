package vault

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresVault stores sessions in the platform_connection table.
type PostgresVault struct {
	db DBTX
}

func NewPostgresVault(db DBTX) (*PostgresVault, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresVault{db: db}, nil
}

// Migrate creates the platform_connection table if it does not exist.
func (v *PostgresVault) Migrate(ctx context.Context) error {
	if _, err := v.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create platform_connection table: %w", err)
	}
	return nil
}

// WithTx returns a vault bound to tx.
func (v *PostgresVault) WithTx(tx pgx.Tx) *PostgresVault {
	return &PostgresVault{db: tx}
}

const upsertConnection = `
INSERT INTO platform_connection (artist_id, platform, external_account_id, credentials, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, now())
ON CONFLICT (artist_id, platform) DO UPDATE
SET external_account_id = COALESCE(EXCLUDED.external_account_id, platform_connection.external_account_id),
    credentials = EXCLUDED.credentials,
    updated_at = now()`

func (v *PostgresVault) StoreSession(ctx context.Context, artistID string, p platform.Platform, blob string, externalAccountID string) error {
	if err := validateKey(artistID, p); err != nil {
		return err
	}
	if _, err := v.db.Exec(ctx, upsertConnection, artistID, p.StorageKey(), externalAccountID, blob); err != nil {
		slog.Error("Failed to store platform session", "artistID", artistID, "platform", p, "error", err)
		return fmt.Errorf("failed to store session: %w", err)
	}
	slog.Info("Stored platform session", "artistID", artistID, "platform", p)
	return nil
}

const selectConnection = `
SELECT credentials FROM platform_connection WHERE artist_id = $1 AND platform = $2`

func (v *PostgresVault) LoadSession(ctx context.Context, artistID string, p platform.Platform) (string, error) {
	var blob string
	err := v.db.QueryRow(ctx, selectConnection, artistID, p.StorageKey()).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	return blob, nil
}

// DeleteSession removes the stored connection. Deleting a missing one is not an error.
func (v *PostgresVault) DeleteSession(ctx context.Context, artistID string, p platform.Platform) error {
	if _, err := v.db.Exec(ctx, `DELETE FROM platform_connection WHERE artist_id = $1 AND platform = $2`, artistID, p.StorageKey()); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
