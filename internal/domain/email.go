package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var emailFolder = cases.Fold()

// NormalizeEmail returns the uniqueness key for a customer email. The address is
// NFKC-normalised and case folded so visually identical inputs collapse to one key.
func NormalizeEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return ""
	}
	return emailFolder.String(norm.NFKC.String(trimmed))
}
