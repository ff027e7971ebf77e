// Package tenantkey handles the opaque tenant capability key.
package tenantkey

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

var ErrTooShort = errors.New("tenant key is too short")

// Normalize trims surrounding whitespace; the key is otherwise opaque.
func Normalize(key string) string {
	return strings.TrimSpace(key)
}

func Validate(key string, minLength int) error {
	if len(Normalize(key)) < minLength {
		return ErrTooShort
	}
	return nil
}

// Generate returns a fresh random key for tenants that log in without one.
func Generate() string {
	return uuid.NewString()
}

// Fingerprint is a short stable digest safe to put in logs and cache keys.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(Normalize(key)))
	return hex.EncodeToString(sum[:6])
}

// Short renders the key the way the admin stats page shows it.
func Short(key string) string {
	const visible = 12
	if len(key) <= visible {
		return key
	}
	return key[:visible] + "..."
}
