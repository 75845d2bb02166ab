package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultCountryCode replaces a leading trunk "0" in national numbers.
const DefaultCountryCode = "62"

var nonDigits = regexp.MustCompile(`[^0-9]`)

// ErrInvalidPhone is returned for identifiers that cannot be a phone number.
var ErrInvalidPhone = errors.New("invalid phone number")

// CanonicalPhone reduces a phone number or WhatsApp address to international
// digits only: "+62 812-3456-789", "whatsapp:+62812..." and "0812..." all become
// "62812...".
func CanonicalPhone(raw string) (string, error) {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexByte(raw, ':'); i >= 0 && !strings.HasPrefix(raw, "+") {
		raw = raw[i+1:]
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if strings.HasPrefix(digits, "0") {
		digits = DefaultCountryCode + strings.TrimLeft(digits, "0")
	}
	if len(digits) < 6 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return digits, nil
}
