package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSlug(t *testing.T) {
	valid := []string{"abc", "my-library", "lib-42", "a1b", strings.Repeat("a", 64)}
	for _, slug := range valid {
		require.NoError(t, ValidateSlug(slug), slug)
	}

	require.ErrorIs(t, ValidateSlug("ab"), ErrSlugTooShort)
	require.ErrorIs(t, ValidateSlug(strings.Repeat("a", 65)), ErrSlugTooLong)

	invalid := []string{"-abc", "abc-", "my_library", "my library", "café"}
	for _, slug := range invalid {
		require.ErrorIs(t, ValidateSlug(slug), ErrInvalidSlug, slug)
	}
}

func TestValidateSlug_NormalizesFirst(t *testing.T) {
	require.NoError(t, ValidateSlug("  My-Library  "))
}

func TestNormalizeSlug(t *testing.T) {
	require.Equal(t, "my-library", NormalizeSlug("  My-Library  "))
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  reader@example.com ")
	require.NoError(t, err)
	require.Equal(t, "reader@example.com", email)

	_, err = NormalizeEmail("")
	require.Error(t, err)

	_, err = NormalizeEmail("not-an-email")
	require.Error(t, err)

	_, err = NormalizeEmail(strings.Repeat("a", 320) + "@example.com")
	require.Error(t, err)
}

func TestValidateUsername(t *testing.T) {
	require.NoError(t, ValidateUsername("reader"))
	require.Error(t, ValidateUsername("ab"))
	require.Error(t, ValidateUsername(strings.Repeat("a", 33)))
}
