// Package idgen generates random identifiers for stored records.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 24 hex characters taken from a random
// UUID (e.g. "lk_", "lic_", "act_").
func WithPrefix(prefix string) string {
	return prefix + compact()[:24]
}

// compact is a random UUID without dashes.
func compact() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
