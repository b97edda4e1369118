package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

const connectionColumns = `id, org_id, platform, account_id, access_token, refresh_token, expires_at, created_at, updated_at`

func (s *Store) scanConnection(row interface {
	Scan(dest ...interface{}) error
}) (*models.Connection, error) {
	var conn models.Connection
	err := row.Scan(
		&conn.ID, &conn.OrgID, &conn.Platform, &conn.AccountID,
		&conn.AccessToken, &conn.RefreshToken, &conn.ExpiresAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if conn.AccessToken, err = s.decryptField(conn.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if conn.RefreshToken.Valid {
		if conn.RefreshToken.String, err = s.decryptField(conn.RefreshToken.String); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &conn, nil
}

// GetConnection retrieves one connection by its full key.
func (s *Store) GetConnection(ctx context.Context, orgID string, platform models.Platform, accountID string) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM herald_connections
		WHERE org_id = $1 AND platform = $2 AND account_id = $3
	`, orgID, platform, accountID)
	return s.scanConnection(row)
}

// GetPlatformConnection retrieves the organization's connection for a
// platform. At most one connection per (org, platform, account) exists; when
// an org has several accounts on one platform the oldest connection wins.
func (s *Store) GetPlatformConnection(ctx context.Context, orgID string, platform models.Platform) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM herald_connections
		WHERE org_id = $1 AND platform = $2
		ORDER BY created_at
		LIMIT 1
	`, orgID, platform)
	return s.scanConnection(row)
}

// ListConnections returns all of an organization's connections.
func (s *Store) ListConnections(ctx context.Context, orgID string) ([]models.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM herald_connections
		WHERE org_id = $1
		ORDER BY platform, account_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		conn, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// UpdateConnectionTokens overwrites a connection's credentials after a
// successful refresh. refreshToken may be empty when the platform did not
// rotate it; the stored value is then left untouched. This is the only write
// path into herald_connections from this service.
func (s *Store) UpdateConnectionTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	encAccess, err := s.encryptField(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var expires sql.NullTime
	if !expiresAt.IsZero() {
		expires = sql.NullTime{Time: expiresAt, Valid: true}
	}

	if refreshToken == "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE herald_connections
			SET access_token = $1, expires_at = $2, updated_at = NOW()
			WHERE id = $3
		`, encAccess, expires, id)
		return err
	}

	encRefresh, err := s.encryptField(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE herald_connections
		SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`, encAccess, encRefresh, expires, id)
	return err
}
