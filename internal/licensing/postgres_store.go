package licensing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/licensehub/internal/retry"
)

const (
	txAttempts   = 3
	txRetryDelay = 20 * time.Millisecond
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists licensing data in PostgreSQL. Transactions run at
// SERIALIZABLE isolation and are retried on serialization failure.
type PostgresStore struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// NewPostgresStore creates a new PostgreSQL-backed licensing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (p *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if p.inTx {
		return fn(p)
	}
	return retry.If(ctx, txAttempts, txRetryDelay, isSerializationFailure, func() error {
		return p.runTx(ctx, fn)
	})
}

func (p *PostgresStore) runTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(&PostgresStore{db: p.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isSerializationFailure(err error) bool {
	code := pqCode(err)
	return code == "40001" || code == "40P01"
}

func (p *PostgresStore) CreateBrand(ctx context.Context, b *Brand) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO brands (id, code, name, created_at)
		VALUES ($1, $2, $3, $4)`,
		b.ID, b.Code, b.Name, b.CreatedAt,
	)
	if pqCode(err) == "23505" {
		return ErrBrandCodeTaken
	}
	return err
}

func (p *PostgresStore) GetBrand(ctx context.Context, id string) (*Brand, error) {
	return scanBrand(p.q.QueryRowContext(ctx, `
		SELECT id, code, name, created_at FROM brands WHERE id = $1`, id))
}

func (p *PostgresStore) GetBrandByCode(ctx context.Context, code string) (*Brand, error) {
	return scanBrand(p.q.QueryRowContext(ctx, `
		SELECT id, code, name, created_at FROM brands WHERE code = $1`, code))
}

func scanBrand(row *sql.Row) (*Brand, error) {
	b := &Brand{}
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBrandNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) CreateProduct(ctx context.Context, pr *Product) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO products (id, brand_id, code, name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		pr.ID, pr.BrandID, pr.Code, pr.Name, pr.CreatedAt,
	)
	switch pqCode(err) {
	case "23505":
		return ErrProductCodeTaken
	case "23503":
		return ErrBrandNotFound
	}
	return err
}

func (p *PostgresStore) FindProduct(ctx context.Context, brandID, code string) (*Product, error) {
	pr := &Product{}
	err := p.q.QueryRowContext(ctx, `
		SELECT id, brand_id, code, name, created_at
		FROM products WHERE brand_id = $1 AND code = $2`, brandID, code,
	).Scan(&pr.ID, &pr.BrandID, &pr.Code, &pr.Name, &pr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (p *PostgresStore) ListProducts(ctx context.Context, brandID string) ([]Product, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, brand_id, code, name, created_at
		FROM products WHERE brand_id = $1 ORDER BY code`, brandID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Product{}
	for rows.Next() {
		var pr Product
		if err := rows.Scan(&pr.ID, &pr.BrandID, &pr.Code, &pr.Name, &pr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// CreateLicenseKey uses ON CONFLICT so a token collision leaves the
// transaction usable for another attempt.
func (p *PostgresStore) CreateLicenseKey(ctx context.Context, k *LicenseKey) error {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO license_keys (id, brand_id, customer_email, key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`,
		k.ID, k.BrandID, k.CustomerEmail, k.Key, k.CreatedAt,
	)
	if err != nil {
		if pqCode(err) == "23503" {
			return ErrBrandNotFound
		}
		return err
	}
	return expectAffected(res, ErrKeyTokenTaken)
}

const licenseKeyColumns = `id, brand_id, customer_email, key, created_at`

func (p *PostgresStore) GetLicenseKey(ctx context.Context, id string) (*LicenseKey, error) {
	return p.loadKey(ctx, p.q.QueryRowContext(ctx, `
		SELECT `+licenseKeyColumns+` FROM license_keys WHERE id = $1`, id))
}

func (p *PostgresStore) FindLicenseKeyByToken(ctx context.Context, token string) (*LicenseKey, error) {
	return p.loadKey(ctx, p.q.QueryRowContext(ctx, `
		SELECT `+licenseKeyColumns+` FROM license_keys WHERE key = $1`, token))
}

func (p *PostgresStore) loadKey(ctx context.Context, row *sql.Row) (*LicenseKey, error) {
	k := &LicenseKey{}
	err := row.Scan(&k.ID, &k.BrandID, &k.CustomerEmail, &k.Key, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	byKey, err := p.licensesFor(ctx, []string{k.ID})
	if err != nil {
		return nil, err
	}
	k.Licenses = byKey[k.ID]
	if k.Licenses == nil {
		k.Licenses = []License{}
	}
	return k, nil
}

func (p *PostgresStore) ListLicenseKeysByEmail(ctx context.Context, email string) ([]LicenseKey, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+licenseKeyColumns+` FROM license_keys
		WHERE customer_email = $1 ORDER BY seq`, email)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := []LicenseKey{}
	var ids []string
	for rows.Next() {
		var k LicenseKey
		if err := rows.Scan(&k.ID, &k.BrandID, &k.CustomerEmail, &k.Key, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
		ids = append(ids, k.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return keys, nil
	}

	byKey, err := p.licensesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].Licenses = byKey[keys[i].ID]
		if keys[i].Licenses == nil {
			keys[i].Licenses = []License{}
		}
	}
	return keys, nil
}

const licenseSelect = `
	SELECT l.id, l.license_key_id, l.product_id, l.status, l.expires_at, l.created_at, l.updated_at,
	       pr.id, pr.brand_id, pr.code, pr.name, pr.created_at
	FROM licenses l JOIN products pr ON pr.id = l.product_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (License, error) {
	var (
		l       License
		status  string
		expires sql.NullTime
	)
	err := row.Scan(&l.ID, &l.LicenseKeyID, &l.ProductID, &status, &expires, &l.CreatedAt, &l.UpdatedAt,
		&l.Product.ID, &l.Product.BrandID, &l.Product.Code, &l.Product.Name, &l.Product.CreatedAt)
	if err != nil {
		return l, err
	}
	l.Status = Status(status)
	if expires.Valid {
		t := expires.Time.UTC()
		l.ExpiresAt = &t
	}
	return l, nil
}

// licensesFor loads licenses with their products for the given keys, grouped
// by key ID in creation order.
func (p *PostgresStore) licensesFor(ctx context.Context, keyIDs []string) (map[string][]License, error) {
	rows, err := p.q.QueryContext(ctx, licenseSelect+`
		WHERE l.license_key_id = ANY($1) ORDER BY l.seq`, pq.Array(keyIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]License, len(keyIDs))
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out[l.LicenseKeyID] = append(out[l.LicenseKeyID], l)
	}
	return out, rows.Err()
}

// CreateLicense uses ON CONFLICT so an already attached product leaves the
// transaction usable.
func (p *PostgresStore) CreateLicense(ctx context.Context, l *License) error {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO licenses (id, license_key_id, product_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (license_key_id, product_id) DO NOTHING`,
		l.ID, l.LicenseKeyID, l.ProductID, string(l.Status), nullTime(l.ExpiresAt), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if pqCode(err) == "23503" {
			return ErrLicenseKeyNotFound
		}
		return err
	}
	return expectAffected(res, ErrLicenseExists)
}

func (p *PostgresStore) GetLicense(ctx context.Context, id string) (*LicenseWithKey, error) {
	l, err := scanLicense(p.q.QueryRowContext(ctx, licenseSelect+` WHERE l.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	out := &LicenseWithKey{License: l}
	err = p.q.QueryRowContext(ctx, `
		SELECT `+licenseKeyColumns+` FROM license_keys WHERE id = $1`, l.LicenseKeyID,
	).Scan(&out.Key.ID, &out.Key.BrandID, &out.Key.CustomerEmail, &out.Key.Key, &out.Key.CreatedAt)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) UpdateLicense(ctx context.Context, l *License) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE licenses SET status = $1, expires_at = $2, updated_at = $3
		WHERE id = $4`,
		string(l.Status), nullTime(l.ExpiresAt), l.UpdatedAt, l.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrLicenseNotFound)
}

func (p *PostgresStore) FindActiveActivation(ctx context.Context, licenseKeyID, instanceID string) (*Activation, error) {
	a, err := scanActivation(p.q.QueryRowContext(ctx, `
		SELECT id, license_key_id, instance_id, activated_at, deactivated_at
		FROM activations
		WHERE license_key_id = $1 AND instance_id = $2 AND deactivated_at IS NULL`,
		licenseKeyID, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateActivation returns ErrActivationExists when the (key, instance) pair
// already has a row, including one written by a concurrent transaction.
func (p *PostgresStore) CreateActivation(ctx context.Context, a *Activation) error {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO activations (id, license_key_id, instance_id, activated_at, deactivated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (license_key_id, instance_id) DO NOTHING`,
		a.ID, a.LicenseKeyID, a.InstanceID, a.ActivatedAt, nullTime(a.DeactivatedAt),
	)
	if err != nil {
		if pqCode(err) == "23503" {
			return ErrLicenseKeyNotFound
		}
		return err
	}
	return expectAffected(res, ErrActivationExists)
}

func (p *PostgresStore) CountActivations(ctx context.Context, licenseKeyID string) (int, error) {
	var n int
	err := p.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activations WHERE license_key_id = $1`, licenseKeyID,
	).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListActivations(ctx context.Context, licenseKeyID string) ([]Activation, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, license_key_id, instance_id, activated_at, deactivated_at
		FROM activations WHERE license_key_id = $1 ORDER BY seq`, licenseKeyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Activation{}
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivation(row rowScanner) (Activation, error) {
	var (
		a           Activation
		deactivated sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.LicenseKeyID, &a.InstanceID, &a.ActivatedAt, &deactivated); err != nil {
		return a, err
	}
	if deactivated.Valid {
		t := deactivated.Time
		a.DeactivatedAt = &t
	}
	return a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// expectAffected maps zero affected rows to errNone.
func expectAffected(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
