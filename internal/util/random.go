// Package util provides small shared helpers for the VendaFlow application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these IDs are identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateConversationID generates a unique conversation ID with "c_" prefix.
func GenerateConversationID() string {
	return GenerateRandomID("c_", 32)
}

// GenerateEventID generates a unique turn event ID with "e_" prefix.
func GenerateEventID() string {
	return GenerateRandomID("e_", 32)
}

// GeneratePaymentID generates a unique payment record ID with "pay_" prefix.
func GeneratePaymentID() string {
	return GenerateRandomID("pay_", 32)
}

// GenerateJobID generates a unique job ID with "job_" prefix.
func GenerateJobID() string {
	return GenerateRandomID("job_", 32)
}
