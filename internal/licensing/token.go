package licensing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TokenGenerator produces license key tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// TokenGeneratorFunc adapts a function to TokenGenerator.
type TokenGeneratorFunc func() (string, error)

func (f TokenGeneratorFunc) Generate() (string, error) { return f() }

const (
	tokenAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenGroups    = 3
	tokenGroupSize = 4
)

// RandomTokenGenerator produces tokens of the form XXXX-XXXX-XXXX from
// uppercase letters and digits.
type RandomTokenGenerator struct{}

func (RandomTokenGenerator) Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(tokenGroups*tokenGroupSize + tokenGroups - 1)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for g := 0; g < tokenGroups; g++ {
		if g > 0 {
			sb.WriteByte('-')
		}
		for i := 0; i < tokenGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate token: %w", err)
			}
			sb.WriteByte(tokenAlphabet[n.Int64()])
		}
	}
	return sb.String(), nil
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
