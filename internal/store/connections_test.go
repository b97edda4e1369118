package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	fieldcrypt "github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/crypto"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil), mock
}

func connectionRows(now time.Time, accessToken, refreshToken string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "platform", "account_id", "access_token", "refresh_token", "expires_at", "created_at", "updated_at"}).
		AddRow("conn-1", "org-1", "twitter", "acct-1", accessToken, refreshToken, now.Add(time.Hour), now, now)
}

func TestStoreGetConnection(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM herald_connections\s+WHERE org_id = \$1 AND platform = \$2 AND account_id = \$3`).
		WithArgs("org-1", models.PlatformTwitter, "acct-1").
		WillReturnRows(connectionRows(now, "tok", "refresh"))

	conn, err := s.GetConnection(context.Background(), "org-1", models.PlatformTwitter, "acct-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn.AccessToken != "tok" || conn.RefreshToken.String != "refresh" {
		t.Fatalf("unexpected connection %+v", conn)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGetConnectionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM herald_connections`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "platform", "account_id", "access_token", "refresh_token", "expires_at", "created_at", "updated_at"}))

	_, err := s.GetConnection(context.Background(), "org-1", models.PlatformTwitter, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetPlatformConnectionPicksOldest(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM herald_connections\s+WHERE org_id = \$1 AND platform = \$2\s+ORDER BY created_at\s+LIMIT 1`).
		WithArgs("org-1", models.PlatformTwitter).
		WillReturnRows(connectionRows(now, "tok", "refresh"))

	conn, err := s.GetPlatformConnection(context.Background(), "org-1", models.PlatformTwitter)
	if err != nil {
		t.Fatalf("GetPlatformConnection: %v", err)
	}
	if conn.AccountID != "acct-1" {
		t.Fatalf("unexpected account %q", conn.AccountID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreUpdateConnectionTokens(t *testing.T) {
	s, mock := newMockStore(t)
	expires := time.Now().Add(2 * time.Hour)

	mock.ExpectExec(`UPDATE herald_connections\s+SET access_token = \$1, refresh_token = \$2, expires_at = \$3`).
		WithArgs("new-access", "new-refresh", sqlmock.AnyArg(), "conn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateConnectionTokens(context.Background(), "conn-1", "new-access", "new-refresh", expires); err != nil {
		t.Fatalf("UpdateConnectionTokens: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreUpdateConnectionTokensKeepsRefreshWhenNotRotated(t *testing.T) {
	s, mock := newMockStore(t)

	// Empty refresh token: the update must not touch the stored refresh token.
	mock.ExpectExec(`UPDATE herald_connections\s+SET access_token = \$1, expires_at = \$2`).
		WithArgs("new-access", sqlmock.AnyArg(), "conn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateConnectionTokens(context.Background(), "conn-1", "new-access", "", time.Time{}); err != nil {
		t.Fatalf("UpdateConnectionTokens: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreTokenEncryptionRoundTrip(t *testing.T) {
	enc, err := fieldcrypt.DeriveFieldEncryptor([]byte("0123456789abcdef0123456789abcdef"), "connection-tokens")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewStore(db, enc)

	stored, err := enc.Encrypt("plain-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if stored == "plain-token" {
		t.Fatal("ciphertext equals plaintext")
	}

	now := time.Now()
	mock.ExpectQuery(`FROM herald_connections`).
		WillReturnRows(connectionRows(now, stored, stored))

	conn, err := s.GetConnection(context.Background(), "org-1", models.PlatformTwitter, "acct-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn.AccessToken != "plain-token" || conn.RefreshToken.String != "plain-token" {
		t.Fatalf("tokens not decrypted: %+v", conn)
	}
}
