package licensing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/traces"
)

// Validate reports the usable entitlements of token and how many instances
// have ever been activated. The result is key-wide: instanceID is recorded on
// the span but does not scope anything. Validate never writes.
func (s *Service) Validate(ctx context.Context, token, instanceID string) (*ValidationResult, error) {
	ctx, span := traces.StartSpan(ctx, "licensing.Validate", traces.InstanceID(instanceID))
	defer span.End()

	now := s.clock.Now()
	var result *ValidationResult
	err := s.store.WithTx(ctx, func(tx Store) error {
		key, err := tx.FindLicenseKeyByToken(ctx, token)
		if errors.Is(err, ErrLicenseKeyNotFound) {
			return ErrInvalidKey
		}
		if err != nil {
			return err
		}
		span.SetAttributes(traces.LicenseKeyID(key.ID))

		used, err := tx.CountActivations(ctx, key.ID)
		if err != nil {
			return fmt.Errorf("count activations: %w", err)
		}

		entitlements := usableEntitlements(key.Licenses, now)
		status := ValidationValid
		if len(entitlements) == 0 {
			status = ValidationInvalid
		}
		result = &ValidationResult{
			Status:   status,
			Licenses: entitlements,
			Seats:    Seats{Used: used},
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			metrics.ValidationsTotal.WithLabelValues("unknown_key").Inc()
		}
		finishSpan(span, err)
		return nil, err
	}

	metrics.ValidationsTotal.WithLabelValues(result.Status).Inc()
	return result, nil
}
