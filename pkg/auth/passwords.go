package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only hashes the first 72 bytes of input; longer passwords are
// truncated explicitly rather than rejected.
const maxPasswordBytes = 72

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	raw := []byte(password)
	if len(raw) > maxPasswordBytes {
		raw = raw[:maxPasswordBytes]
	}

	hash, err := bcrypt.GenerateFromPassword(raw, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether a password matches a stored hash.
func VerifyPassword(password, hash string) bool {
	raw := []byte(password)
	if len(raw) > maxPasswordBytes {
		raw = raw[:maxPasswordBytes]
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), raw) == nil
}
