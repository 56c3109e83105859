package session

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPIN hashes a PIN for storage on a kid profile or in the admin config
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", errors.New("pin must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN reports whether pin matches hash. A malformed hash never matches.
func CheckPIN(hash, pin string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
