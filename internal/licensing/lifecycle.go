package licensing

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/traces"
	"go.opentelemetry.io/otel/attribute"
)

type transition struct {
	to          Status
	needsExpiry bool
}

// transitions lists every allowed (status, action) pair. Cancelled has no
// entries: it is terminal.
var transitions = map[Status]map[Action]transition{
	StatusValid: {
		ActionRenew:   {to: StatusValid, needsExpiry: true},
		ActionSuspend: {to: StatusSuspended},
		ActionCancel:  {to: StatusCancelled},
	},
	StatusSuspended: {
		ActionRenew:  {to: StatusValid, needsExpiry: true},
		ActionResume: {to: StatusValid},
		ActionCancel: {to: StatusCancelled},
	},
}

// KnownAction reports whether a is one of the lifecycle actions.
func KnownAction(a Action) bool {
	switch a {
	case ActionRenew, ActionSuspend, ActionResume, ActionCancel:
		return true
	}
	return false
}

// nextStatus applies action to a license in status from.
func nextStatus(from Status, action Action, newExpiry *time.Time) (Status, error) {
	if from == StatusCancelled {
		return from, ErrImmutable
	}
	if !KnownAction(action) {
		return from, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}
	t, ok := transitions[from][action]
	if !ok {
		return from, fmt.Errorf("%w: cannot %s a %s license", ErrInvalidTransition, action, from)
	}
	if t.needsExpiry && newExpiry == nil {
		return from, ErrMissingExpiry
	}
	return t.to, nil
}

// ChangeStatus applies a lifecycle action to one license owned by brand.
// Renew replaces the expiry with newExpiry; other actions leave it as is.
func (s *Service) ChangeStatus(ctx context.Context, brand Brand, licenseID string, action Action, newExpiry *time.Time) (*License, error) {
	ctx, span := traces.StartSpan(ctx, "licensing.ChangeStatus",
		traces.BrandID(brand.ID), traces.LicenseID(licenseID), attribute.String("license.action", string(action)))
	defer span.End()

	now := s.clock.Now()
	var (
		updated *License
		from    Status
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		if current.Key.BrandID != brand.ID {
			return ErrCrossTenantAccess
		}

		from = current.License.Status
		to, err := nextStatus(from, action, newExpiry)
		if err != nil {
			return err
		}

		lic := current.License
		lic.Status = to
		if action == ActionRenew {
			lic.ExpiresAt = newExpiry
		}
		lic.UpdatedAt = now
		if err := tx.UpdateLicense(ctx, &lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		reloaded, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		updated = &reloaded.License
		return nil
	})
	if err != nil {
		metrics.LifecycleTransitionsTotal.WithLabelValues(string(action), "rejected").Inc()
		finishSpan(span, err)
		return nil, err
	}

	metrics.LifecycleTransitionsTotal.WithLabelValues(string(action), "applied").Inc()
	logging.L(ctx).Info("license status changed",
		"brand_id", brand.ID,
		"license_id", updated.ID,
		"action", action,
		"from", from,
		"to", updated.Status,
	)
	s.emit(ctx, EventStatusChanged, brand.ID, now, map[string]any{
		"licenseId":    updated.ID,
		"licenseKeyId": updated.LicenseKeyID,
		"action":       string(action),
		"from":         string(from),
		"to":           string(updated.Status),
	})
	return updated, nil
}
