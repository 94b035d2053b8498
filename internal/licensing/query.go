package licensing

import (
	"context"
	"fmt"

	"github.com/mbd888/licensehub/internal/traces"
)

// ListByCustomerEmail returns every license held under email across all
// brands, regardless of status. Email matching is exact.
func (s *Service) ListByCustomerEmail(ctx context.Context, email string) ([]CustomerLicense, error) {
	ctx, span := traces.StartSpan(ctx, "licensing.ListByCustomerEmail")
	defer span.End()

	var out []CustomerLicense
	err := s.store.WithTx(ctx, func(tx Store) error {
		out = []CustomerLicense{}

		keys, err := tx.ListLicenseKeysByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("list license keys: %w", err)
		}

		brands := make(map[string]Brand)
		for _, k := range keys {
			for _, l := range k.Licenses {
				b, ok := brands[l.Product.BrandID]
				if !ok {
					got, err := tx.GetBrand(ctx, l.Product.BrandID)
					if err != nil {
						return fmt.Errorf("get brand %s: %w", l.Product.BrandID, err)
					}
					b = *got
					brands[b.ID] = b
				}
				out = append(out, CustomerLicense{
					Brand:      b,
					Product:    l.Product,
					LicenseKey: k.Key,
					Status:     l.Status,
					ExpiresAt:  l.ExpiresAt,
				})
			}
		}
		return nil
	})
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return out, nil
}
