package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTenantIDLength    = 64
	MinDestinationDigits = 10
	MaxDestinationDigits = 15
	MaxBodyLength        = 4096
)

var (
	ErrInvalidTenantID = errors.New("invalid tenant id")
	ErrInvalidDest     = errors.New("invalid destination")
	ErrInvalidBody     = errors.New("invalid message body")
	ErrMissingField    = errors.New("missing field")
	ErrFieldNotString  = errors.New("field must be a string")
)

// TenantID accepts 1..MaxTenantIDLength characters from [A-Za-z0-9_-].
func TenantID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if len(id) > MaxTenantIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTenantID, MaxTenantIDLength)
	}
	for i := 0; i < len(id); i++ {
		if !tenantIDByte(id[i]) {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidTenantID, id[i])
		}
	}
	return nil
}

func tenantIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}

// Destination strips everything except digits and checks the resulting length.
func Destination(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < MinDestinationDigits || len(digits) > MaxDestinationDigits {
		return "", fmt.Errorf("%w: expected %d to %d digits, got %d", ErrInvalidDest, MinDestinationDigits, MaxDestinationDigits, len(digits))
	}
	return digits, nil
}

// Body rejects empty bodies and bodies longer than MaxBodyLength characters.
func Body(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidBody)
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidBody, n, MaxBodyLength)
	}
	return nil
}
