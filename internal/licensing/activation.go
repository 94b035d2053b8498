package licensing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/licensehub/internal/idgen"
	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/traces"
)

// Activate binds token to instanceID and returns the key's usable
// entitlements. Activating an instance twice is a no-op that succeeds.
// A key with no usable license is rejected and nothing is recorded.
func (s *Service) Activate(ctx context.Context, token, instanceID string) ([]Entitlement, error) {
	ctx, span := traces.StartSpan(ctx, "licensing.Activate", traces.InstanceID(instanceID))
	defer span.End()

	unlock, err := s.seats.Lock(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now()
	var (
		key          *LicenseKey
		entitlements []Entitlement
		created      bool
	)
	err = s.store.WithTx(ctx, func(tx Store) error {
		created = false

		k, err := tx.FindLicenseKeyByToken(ctx, token)
		if errors.Is(err, ErrLicenseKeyNotFound) {
			return ErrInvalidKey
		}
		if err != nil {
			return err
		}
		key = k

		entitlements = usableEntitlements(k.Licenses, now)
		if len(entitlements) == 0 {
			return ErrNoValidLicenses
		}

		_, err = tx.FindActiveActivation(ctx, k.ID, instanceID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrActivationNotFound) {
			return err
		}

		err = tx.CreateActivation(ctx, &Activation{
			ID:           idgen.WithPrefix("act_"),
			LicenseKeyID: k.ID,
			InstanceID:   instanceID,
			ActivatedAt:  now,
		})
		if errors.Is(err, ErrActivationExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("create activation: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("rejected").Inc()
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(traces.LicenseKeyID(key.ID))
	if !created {
		metrics.ActivationsTotal.WithLabelValues("existing").Inc()
		return entitlements, nil
	}

	metrics.ActivationsTotal.WithLabelValues("created").Inc()
	logging.L(ctx).Info("license key activated",
		"brand_id", key.BrandID,
		"license_key_id", key.ID,
		"instance_id", instanceID,
	)
	s.emit(ctx, EventActivated, key.BrandID, now, map[string]any{
		"licenseKeyId": key.ID,
		"instanceId":   instanceID,
	})
	return entitlements, nil
}
