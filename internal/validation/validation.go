package validation

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrInvalidSlug is returned when a slug doesn't match the required format
	ErrInvalidSlug = errors.New("invalid slug format")

	// ErrSlugTooShort is returned when a slug is too short
	ErrSlugTooShort = errors.New("slug must be at least 3 characters")

	// ErrSlugTooLong is returned when a slug is too long
	ErrSlugTooLong = errors.New("slug must be at most 64 characters")

	// slugRegex validates slug format: starts and ends with alphanumeric, can contain hyphens
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
)

// ValidateSlug validates an organization slug:
// - Must be 3-64 characters long
// - Must start and end with lowercase alphanumeric (a-z, 0-9)
// - Can contain hyphens in the middle
// - No uppercase, no underscores, no other special characters
func ValidateSlug(slug string) error {
	slug = NormalizeSlug(slug)

	if len(slug) < 3 {
		return ErrSlugTooShort
	}
	if len(slug) > 64 {
		return ErrSlugTooLong
	}

	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}

	return nil
}

// NormalizeSlug normalizes a slug by converting to lowercase and trimming
// whitespace. Uniqueness is checked case-insensitively server-side, so the
// normalized form is what travels to the platform.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// NormalizeEmail trims and validates an email address (RFC 5322 simplified).
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("email is required")
	}
	if len(email) > 320 {
		return "", errors.New("email is too long")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", errors.New("invalid email address")
	}
	return email, nil
}

// ValidateUsername validates a profile username.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters")
	}
	if len(username) > 32 {
		return errors.New("username must be at most 32 characters")
	}
	return nil
}
