package crypto

import (
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

const (
	MinCost     = bcrypt.MinCost
	MaxCost     = bcrypt.MaxCost
	DefaultCost = 12

	// MaxPasswordLength guards bcrypt against oversized inputs.
	MaxPasswordLength = 128

	// minEntropyBits is the strength floor enforced on new passwords.
	minEntropyBits = 60
)

// PasswordHasher hashes and verifies user passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher with the given bcrypt cost; out-of-range
// costs fall back to DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < MinCost || cost > MaxCost {
		cost = DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash validates strength and returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errs.ThrowInvalid(nil, "CRYPT-pw-empty", "password must not be empty")
	}
	if len(password) > MaxPasswordLength {
		return "", errs.ThrowInvalid(nil, "CRYPT-pw-long", "password exceeds %d characters", MaxPasswordLength)
	}
	if err := passwordvalidator.Validate(password, minEntropyBits); err != nil {
		return "", errs.ThrowInvalid(err, "CRYPT-pw-weak", "password is too weak")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", errs.ThrowInternal(err, "CRYPT-pw-hash", "failed to hash password")
	}
	return string(hashed), nil
}

// Verify compares a stored hash against a candidate password.
func (h *PasswordHasher) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return errs.ThrowInvalid(err, "CRYPT-pw-mismatch", "password does not match")
	}
	return nil
}
