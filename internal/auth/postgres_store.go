package auth

import (
	"context"
	"database/sql"
)

// PostgresStore persists API keys in PostgreSQL. The api_keys table is
// created by the migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new API key
func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, brand_id, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.Hash, key.BrandID, key.Name, key.CreatedAt, key.ExpiresAt, key.Revoked)
	return err
}

const apiKeySelect = `
	SELECT k.id, k.hash, k.brand_id, b.code, k.name, k.created_at, k.last_used, k.expires_at, k.revoked
	FROM api_keys k JOIN brands b ON b.id = k.brand_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	key := &APIKey{}
	var (
		name      sql.NullString
		expiresAt sql.NullTime
		lastUsed  sql.NullTime
	)
	if err := row.Scan(
		&key.ID, &key.Hash, &key.BrandID, &key.BrandCode, &name,
		&key.CreatedAt, &lastUsed, &expiresAt, &key.Revoked,
	); err != nil {
		return nil, err
	}
	key.Name = name.String
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

// GetByHash retrieves a live API key by its hash
func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	key, err := scanKey(p.db.QueryRowContext(ctx, apiKeySelect+`
		WHERE k.hash = $1
		  AND k.revoked = FALSE
		  AND (k.expires_at IS NULL OR k.expires_at > NOW())
	`, hash))
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	return key, err
}

// ListByBrand retrieves all API keys for a brand, newest first
func (p *PostgresStore) ListByBrand(ctx context.Context, brandID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, apiKeySelect+`
		WHERE k.brand_id = $1 ORDER BY k.created_at DESC
	`, brandID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Update records last use and revocation
func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE api_keys
		SET last_used = GREATEST(last_used, $1), revoked = revoked OR $2
		WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	return err
}
