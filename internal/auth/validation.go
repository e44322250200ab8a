package auth

import (
	"fmt"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^:\p{Cc} ]+@[^:\p{Cc} ]+\.[^:\p{Cc} ]+$`)

// NormalizeEmail lower-cases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail performs a structural check of a single address: one local
// part, one domain with a dot, no spaces, colons or control characters
func IsValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 320 {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}
	return emailPattern.MatchString(email)
}

// ValidatePassword enforces length bounds
func ValidatePassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = 8
	}
	if len(password) < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
	}
	// argon2 cost grows with input; cap it
	if len(password) > 128 {
		return fmt.Errorf("password must be at most 128 characters long")
	}
	return nil
}
