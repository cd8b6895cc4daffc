package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID in the format "{prefix}{hex}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified
// length. Non-cryptographic.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateCheckoutKey generates a unique checkout key with "ck_" prefix,
// used to correlate onboarding answers with a Stripe checkout session.
func GenerateCheckoutKey() string {
	return GenerateRandomID("ck_", 32)
}
