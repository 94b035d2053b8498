package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/licensehub/internal/idgen"
	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/traces"
	"go.opentelemetry.io/otel/attribute"
)

// Provision creates a license key for the customer, or reuses
// req.ExistingKeyID, and attaches one license per requested product.
//
// Attaching a product the key already holds leaves the existing license
// untouched. The call is atomic: if any product cannot be resolved nothing
// is persisted. The returned key carries all of its licenses.
func (s *Service) Provision(ctx context.Context, brand Brand, req ProvisionRequest) (*LicenseKey, error) {
	ctx, span := traces.StartSpan(ctx, "licensing.Provision",
		traces.BrandID(brand.ID), attribute.Int("licenses.requested", len(req.Licenses)))
	defer span.End()

	now := s.clock.Now()
	var (
		key      *LicenseKey
		created  bool
		attached []string
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		created, attached = false, nil

		var err error
		if req.ExistingKeyID != "" {
			key, err = tx.GetLicenseKey(ctx, req.ExistingKeyID)
			if err != nil {
				return err
			}
			if key.BrandID != brand.ID {
				return ErrCrossTenantKey
			}
		} else {
			key, err = s.createKey(ctx, tx, brand, req.CustomerEmail, now)
			if err != nil {
				return err
			}
			created = true
		}

		for _, lr := range req.Licenses {
			ok, err := attachLicense(ctx, tx, brand, key.ID, lr, now)
			if err != nil {
				return err
			}
			if ok {
				attached = append(attached, lr.ProductCode)
			}
		}

		key, err = tx.GetLicenseKey(ctx, key.ID)
		return err
	})
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if created {
		metrics.LicenseKeysCreatedTotal.Inc()
	}
	metrics.LicensesAttachedTotal.WithLabelValues("created").Add(float64(len(attached)))
	metrics.LicensesAttachedTotal.WithLabelValues("existing").Add(float64(len(req.Licenses) - len(attached)))
	span.SetAttributes(traces.LicenseKeyID(key.ID), attribute.Bool("license_key.created", created))

	logging.L(ctx).Info("license key provisioned",
		"brand_id", brand.ID,
		"license_key_id", key.ID,
		"new_key", created,
		"attached", len(attached),
	)
	s.emit(ctx, EventKeyProvisioned, brand.ID, now, map[string]any{
		"licenseKeyId":  key.ID,
		"customerEmail": key.CustomerEmail,
		"newKey":        created,
		"attached":      attached,
	})
	return key, nil
}

func (s *Service) createKey(ctx context.Context, tx Store, brand Brand, email string, now time.Time) (*LicenseKey, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.tokens.Generate()
		if err != nil {
			return nil, err
		}
		key := &LicenseKey{
			ID:            idgen.WithPrefix("lk_"),
			BrandID:       brand.ID,
			CustomerEmail: email,
			Key:           token,
			CreatedAt:     now,
		}
		err = tx.CreateLicenseKey(ctx, key)
		if errors.Is(err, ErrKeyTokenTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create license key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("create license key: %w after %d attempts", ErrKeyTokenTaken, maxTokenAttempts)
}

// attachLicense reports whether a new license was created.
func attachLicense(ctx context.Context, tx Store, brand Brand, keyID string, lr LicenseRequest, now time.Time) (bool, error) {
	product, err := tx.FindProduct(ctx, brand.ID, lr.ProductCode)
	if errors.Is(err, ErrProductNotFound) {
		return false, fmt.Errorf("%w: %s", ErrProductNotFound, lr.ProductCode)
	}
	if err != nil {
		return false, err
	}

	err = tx.CreateLicense(ctx, &License{
		ID:           idgen.WithPrefix("lic_"),
		LicenseKeyID: keyID,
		ProductID:    product.ID,
		Status:       StatusValid,
		ExpiresAt:    lr.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrLicenseExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create license: %w", err)
	}
	return true, nil
}
