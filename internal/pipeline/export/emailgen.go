package export

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"strings"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// EmailGenerator builds directory handles from a candidate's name.
type EmailGenerator struct {
	domain   string
	suffixFn func() int
}

// NewEmailGenerator returns a generator for the given directory domain.
// suffixFn supplies the numeric disambiguator and may be nil, in which
// case a random two-digit suffix is used.
func NewEmailGenerator(domain string, suffixFn func() int) *EmailGenerator {
	if suffixFn == nil {
		suffixFn = func() int { return mrand.IntN(90) + 10 }
	}

	return &EmailGenerator{domain: domain, suffixFn: suffixFn}
}

// Generate derives the handle from the lowercased, trimmed name parts.
// The numeric suffix is appended only when the policy asks for it.
func (g *EmailGenerator) Generate(firstName, lastName string, policy EmailPolicy) string {
	local := strings.ToLower(strings.TrimSpace(firstName)) + policy.Separator + strings.ToLower(strings.TrimSpace(lastName))
	if policy.AddUniqueNumericSuffix {
		local = fmt.Sprintf("%s%02d", local, g.suffixFn())
	}

	return local + "@" + g.domain
}

// GeneratePassword returns an alphanumeric temporary password of the
// given length using a cryptographic source.
func GeneratePassword(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)

	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}

		sb.WriteByte(passwordAlphabet[n.Int64()])
	}

	return sb.String(), nil
}
