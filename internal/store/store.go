// Package store persists connections, posts and destination lists in
// PostgreSQL. Stored credentials are encrypted at the application level when a
// field encryptor is configured.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	fieldcrypt "github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/crypto"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle shared by all entity stores.
type Store struct {
	db  *sql.DB
	enc *fieldcrypt.FieldEncryptor // nil = no encryption (plaintext passthrough)
}

// NewStore creates a store. enc may be nil to disable token encryption.
func NewStore(db *sql.DB, enc *fieldcrypt.FieldEncryptor) *Store {
	return &Store{db: db, enc: enc}
}

// EnsureSchema applies the embedded schema. Statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) encryptField(plaintext string) (string, error) {
	if s.enc == nil {
		return plaintext, nil
	}
	return s.enc.Encrypt(plaintext)
}

func (s *Store) decryptField(stored string) (string, error) {
	if s.enc == nil {
		return stored, nil
	}
	return s.enc.Decrypt(stored)
}

// payloadMap adapts map[Platform]string to a JSONB column.
type payloadMap map[models.Platform]string

func (p payloadMap) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *payloadMap) Scan(src interface{}) error {
	if src == nil {
		*p = payloadMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported payloads type %T", src)
	}
	return json.Unmarshal(data, p)
}
