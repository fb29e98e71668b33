package command

import (
	"strings"

	"github.com/asaskevich/govalidator"
	"golang.org/x/text/unicode/norm"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// normalizeUsername folds a username to its canonical form: NFKC normalized,
// lowercased, trimmed. Uniqueness is checked on this form.
func normalizeUsername(username string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(username)))
}

// normalizeDomain canonicalizes an org domain the same way.
func normalizeDomain(domainName string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(domainName)))
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if !govalidator.IsEmail(email) {
		return errs.ThrowInvalid(nil, "COMMAND-email", "email %q is not a valid address", email)
	}
	return nil
}

func requireEmail(email string) error {
	if email == "" {
		return errs.ThrowInvalid(nil, "COMMAND-email-empty", "email must not be empty")
	}
	return validateEmail(email)
}

// validateHTTPSURL enforces the https-only rule for webhook endpoints and
// redirect URIs.
func validateHTTPSURL(field, raw string) error {
	if raw == "" {
		return errs.ThrowInvalid(nil, "COMMAND-url-empty", "%s must not be empty", field)
	}
	if !govalidator.IsURL(raw) || !strings.HasPrefix(raw, "https://") {
		return errs.ThrowInvalid(nil, "COMMAND-url", "%s %q must be a valid https URL", field, raw)
	}
	return nil
}

func requireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errs.ThrowInvalid(nil, "COMMAND-empty", "%s must not be empty", field)
	}
	return nil
}

// usernameConstraintValue scopes username uniqueness to the owning org.
func usernameConstraintValue(orgID, username string) string {
	return orgID + ":" + normalizeUsername(username)
}
