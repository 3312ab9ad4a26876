package app

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// fallbackHash is a well-formed bcrypt hash compared against when no user
// row exists, so a login attempt costs the same time whether or not the
// account is real.
const fallbackHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

func verifyPassword(password, hashed string) bool {
	if hashed == "" {
		hashed = fallbackHash
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
