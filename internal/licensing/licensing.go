// Package licensing issues, activates and validates license keys for brands.
//
// A brand (tenant) owns products. Provisioning groups per-product licenses under
// one license key for a customer; end-user software activates the key for an
// instance and validates it; brand back-offices move licenses through their
// lifecycle (renew, suspend, resume, cancel).
package licensing

import (
	"errors"
	"time"
)

// Domain errors. Handlers map each one to a stable HTTP status.
var (
	ErrInvalidKey        = errors.New("licensing: invalid license key")
	ErrNoValidLicenses   = errors.New("licensing: no valid licenses associated with this license key")
	ErrCrossTenantKey    = errors.New("licensing: license key does not belong to this brand")
	ErrCrossTenantAccess = errors.New("licensing: license does not belong to this brand")
	ErrProductNotFound   = errors.New("licensing: product not found for this brand")
	ErrMissingExpiry     = errors.New("licensing: expiration date is required to renew a license")
	ErrInvalidTransition = errors.New("licensing: transition not allowed from current status")
	ErrImmutable         = errors.New("licensing: cancelled licenses cannot be modified")
	ErrUnsupportedAction = errors.New("licensing: unsupported lifecycle action")
)

// Storage errors.
var (
	ErrBrandNotFound      = errors.New("licensing: brand not found")
	ErrBrandCodeTaken     = errors.New("licensing: brand code already taken")
	ErrProductCodeTaken   = errors.New("licensing: product code already taken for this brand")
	ErrLicenseKeyNotFound = errors.New("licensing: license key not found")
	ErrKeyTokenTaken      = errors.New("licensing: license key token already issued")
	ErrLicenseNotFound    = errors.New("licensing: license not found")
	ErrLicenseExists      = errors.New("licensing: license already attached for product")
	ErrActivationNotFound = errors.New("licensing: activation not found")
	ErrActivationExists   = errors.New("licensing: instance already activated")
)

// Status is the lifecycle state of a license.
type Status string

const (
	StatusValid     Status = "valid"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Action is a lifecycle transition requested by a brand.
type Action string

const (
	ActionRenew   Action = "renew"
	ActionSuspend Action = "suspend"
	ActionResume  Action = "resume"
	ActionCancel  Action = "cancel"
)

// Brand is the tenant boundary.
type Brand struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Product is a purchasable unit offered by exactly one brand.
type Product struct {
	ID        string    `json:"id"`
	BrandID   string    `json:"brandId"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// LicenseKey groups a customer's licenses under one opaque token.
// Licenses is populated by the store on every fetch.
type LicenseKey struct {
	ID            string    `json:"id"`
	BrandID       string    `json:"brandId"`
	CustomerEmail string    `json:"customerEmail"`
	Key           string    `json:"key"`
	CreatedAt     time.Time `json:"createdAt"`
	Licenses      []License `json:"licenses"`
}

// License entitles a license key to one product. ExpiresAt is nil for
// perpetual licenses. Product is populated by the store.
type License struct {
	ID           string     `json:"id"`
	LicenseKeyID string     `json:"licenseKeyId"`
	ProductID    string     `json:"productId"`
	Status       Status     `json:"status"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Product      Product    `json:"product"`
}

// LicenseWithKey is a license together with the key that owns it.
// Key.Licenses is not populated.
type LicenseWithKey struct {
	License License
	Key     LicenseKey
}

// Activation binds a license key to a caller-chosen instance identifier.
type Activation struct {
	ID            string     `json:"id"`
	LicenseKeyID  string     `json:"licenseKeyId"`
	InstanceID    string     `json:"instanceId"`
	ActivatedAt   time.Time  `json:"activatedAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// Usable reports whether the license grants access at now: it must be valid
// and either perpetual or expiring strictly after now.
func (l License) Usable(now time.Time) bool {
	if l.Status != StatusValid {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// Entitlement is what activation and validation report per usable license.
type Entitlement struct {
	ProductCode string     `json:"product_code"`
	Status      Status     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Seats reports activation usage. Remaining is always nil: no quota is enforced.
type Seats struct {
	Used      int  `json:"used"`
	Remaining *int `json:"remaining"`
}

// ValidationResult is the key-wide entitlement report.
type ValidationResult struct {
	Status   string        `json:"status"`
	Licenses []Entitlement `json:"licenses"`
	Seats    Seats         `json:"seats"`
}

// Validation result statuses.
const (
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
)

// CustomerLicense is one entry of the ecosystem-wide customer view.
type CustomerLicense struct {
	Brand      Brand
	Product    Product
	LicenseKey string
	Status     Status
	ExpiresAt  *time.Time
}

// LicenseRequest asks for one product entitlement.
type LicenseRequest struct {
	ProductCode string
	ExpiresAt   *time.Time
}

// ProvisionRequest is the input of Service.Provision. When ExistingKeyID is
// set the licenses are attached to that key and CustomerEmail is not used.
type ProvisionRequest struct {
	CustomerEmail string
	Licenses      []LicenseRequest
	ExistingKeyID string
}

// usableEntitlements filters licenses to the usable set, preserving order.
func usableEntitlements(licenses []License, now time.Time) []Entitlement {
	out := make([]Entitlement, 0, len(licenses))
	for _, l := range licenses {
		if !l.Usable(now) {
			continue
		}
		out = append(out, Entitlement{
			ProductCode: l.Product.Code,
			Status:      l.Status,
			ExpiresAt:   l.ExpiresAt,
		})
	}
	return out
}
