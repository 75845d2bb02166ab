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
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	return randomFrom("0123456789abcdef", length)
}

// customerCodeChars omits look-alike characters (0/O, 1/I) so codes can be read over the phone.
const customerCodeChars = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateTicketID generates a support ticket number such as "TK-7QH2M9XA".
func GenerateTicketID() string {
	return "TK-" + randomFrom(customerCodeChars, 8)
}

// GenerateTopUpReference generates a payment reference such as "TOP-4F8K2P9WQX".
func GenerateTopUpReference() string {
	return "TOP-" + randomFrom(customerCodeChars, 10)
}

func randomFrom(chars string, length int) string {
	if length <= 0 {
		return ""
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.IntN(len(chars))])
	}
	return builder.String()
}
