package licensing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) (*MemoryStore, *LicenseKey, *Product) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateBrand(ctx, &Brand{ID: "brd_1", Code: "acme", Name: "Acme"}))
	p := &Product{ID: "prd_1", BrandID: "brd_1", Code: "core", Name: "Core"}
	require.NoError(t, s.CreateProduct(ctx, p))
	k := &LicenseKey{ID: "lk_1", BrandID: "brd_1", CustomerEmail: "u@example.com", Key: "AAAA-BBBB-CCCC"}
	require.NoError(t, s.CreateLicenseKey(ctx, k))
	return s, k, p
}

func TestMemoryStore_WithTxRollsBack(t *testing.T) {
	s, k, p := seedStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Store) error {
		require.NoError(t, tx.CreateLicense(ctx, &License{ID: "lic_1", LicenseKeyID: k.ID, ProductID: p.ID, Status: StatusValid}))
		require.NoError(t, tx.CreateActivation(ctx, &Activation{ID: "act_1", LicenseKeyID: k.ID, InstanceID: "i"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetLicense(ctx, "lic_1")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
	n, err := s.CountActivations(ctx, k.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_WithTxCommits(t *testing.T) {
	s, k, p := seedStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateLicense(ctx, &License{ID: "lic_1", LicenseKeyID: k.ID, ProductID: p.ID, Status: StatusValid}); err != nil {
			return err
		}
		// Nested transactions join the outer one.
		return tx.WithTx(ctx, func(inner Store) error {
			got, err := inner.GetLicenseKey(ctx, k.ID)
			if err != nil {
				return err
			}
			assert.Len(t, got.Licenses, 1)
			return nil
		})
	})
	require.NoError(t, err)

	got, err := s.GetLicense(ctx, "lic_1")
	require.NoError(t, err)
	assert.Equal(t, "core", got.License.Product.Code)
	assert.Equal(t, "AAAA-BBBB-CCCC", got.Key.Key)
}

func TestMemoryStore_UniqueConstraints(t *testing.T) {
	s, k, p := seedStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.CreateBrand(ctx, &Brand{ID: "brd_2", Code: "acme"}), ErrBrandCodeTaken)
	assert.ErrorIs(t, s.CreateProduct(ctx, &Product{ID: "prd_2", BrandID: "brd_1", Code: "core"}), ErrProductCodeTaken)
	assert.ErrorIs(t, s.CreateProduct(ctx, &Product{ID: "prd_3", BrandID: "brd_x", Code: "core"}), ErrBrandNotFound)
	assert.ErrorIs(t, s.CreateLicenseKey(ctx, &LicenseKey{ID: "lk_2", BrandID: "brd_1", Key: k.Key}), ErrKeyTokenTaken)

	require.NoError(t, s.CreateLicense(ctx, &License{ID: "lic_1", LicenseKeyID: k.ID, ProductID: p.ID, Status: StatusValid}))
	assert.ErrorIs(t, s.CreateLicense(ctx, &License{ID: "lic_2", LicenseKeyID: k.ID, ProductID: p.ID, Status: StatusValid}), ErrLicenseExists)

	require.NoError(t, s.CreateActivation(ctx, &Activation{ID: "act_1", LicenseKeyID: k.ID, InstanceID: "i"}))
	assert.ErrorIs(t, s.CreateActivation(ctx, &Activation{ID: "act_2", LicenseKeyID: k.ID, InstanceID: "i"}), ErrActivationExists)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s, k, p := seedStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateLicense(ctx, &License{ID: "lic_1", LicenseKeyID: k.ID, ProductID: p.ID, Status: StatusValid}))

	got, err := s.GetLicenseKey(ctx, k.ID)
	require.NoError(t, err)
	got.Licenses[0].Status = StatusCancelled
	got.CustomerEmail = "changed@example.com"

	again, err := s.GetLicenseKey(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, again.Licenses[0].Status)
	assert.Equal(t, "u@example.com", again.CustomerEmail)
}

func TestMemoryStore_ListProductsSorted(t *testing.T) {
	s, _, _ := seedStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProduct(ctx, &Product{ID: "prd_2", BrandID: "brd_1", Code: "addon"}))

	products, err := s.ListProducts(ctx, "brd_1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "addon", products[0].Code)
	assert.Equal(t, "core", products[1].Code)

	none, err := s.ListProducts(ctx, "brd_missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
