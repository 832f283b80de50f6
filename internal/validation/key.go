package validation

import (
	"errors"
	"fmt"
)

// MaxKeyLength bounds application keys and session ids.
const MaxKeyLength = 128

// ErrInvalidKey is returned for malformed application keys and session ids.
var ErrInvalidKey = errors.New("invalid key")

// ValidateKey checks that value can be embedded in a Redis key and a URL path
// segment: 1 to MaxKeyLength characters from [A-Za-z0-9._-].
func ValidateKey(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidKey, kind)
	}
	if len(value) > MaxKeyLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidKey, kind, MaxKeyLength)
	}
	for i := 0; i < len(value); i++ {
		if !isKeyByte(value[i]) {
			return fmt.Errorf("%w: %s contains %q at position %d", ErrInvalidKey, kind, value[i], i)
		}
	}
	return nil
}

func isKeyByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	}
	return false
}
