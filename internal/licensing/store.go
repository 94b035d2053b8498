package licensing

import "context"

// Store persists brands, products, license keys, licenses and activations.
//
// Fetches return populated aggregates: a LicenseKey carries its Licenses and
// each License carries its Product. Licenses within a key are ordered by
// creation.
type Store interface {
	// Brands and products
	CreateBrand(ctx context.Context, b *Brand) error
	GetBrand(ctx context.Context, id string) (*Brand, error)
	GetBrandByCode(ctx context.Context, code string) (*Brand, error)
	CreateProduct(ctx context.Context, p *Product) error
	FindProduct(ctx context.Context, brandID, code string) (*Product, error)
	ListProducts(ctx context.Context, brandID string) ([]Product, error)

	// License keys
	CreateLicenseKey(ctx context.Context, k *LicenseKey) error
	GetLicenseKey(ctx context.Context, id string) (*LicenseKey, error)
	FindLicenseKeyByToken(ctx context.Context, token string) (*LicenseKey, error)
	ListLicenseKeysByEmail(ctx context.Context, email string) ([]LicenseKey, error)

	// Licenses. CreateLicense returns ErrLicenseExists when the key already
	// holds a license for the product; the enclosing transaction stays usable.
	CreateLicense(ctx context.Context, l *License) error
	GetLicense(ctx context.Context, id string) (*LicenseWithKey, error)
	UpdateLicense(ctx context.Context, l *License) error

	// Activations. CreateActivation returns ErrActivationExists when a row for
	// (key, instance) exists, deactivated or not.
	FindActiveActivation(ctx context.Context, licenseKeyID, instanceID string) (*Activation, error)
	CreateActivation(ctx context.Context, a *Activation) error
	CountActivations(ctx context.Context, licenseKeyID string) (int, error)
	ListActivations(ctx context.Context, licenseKeyID string) ([]Activation, error)

	// WithTx runs fn against a transaction-scoped Store. A non-nil error from
	// fn rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
