package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Password length bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ErrMalformedHash indicates a stored hash bcrypt cannot parse. It is a configuration error.
var ErrMalformedHash = errors.New("auth: stored password hash is malformed")

// PasswordVerifier hashes and compares passwords with bcrypt.
type PasswordVerifier struct {
	cost  int
	dummy []byte
}

// NewPasswordVerifier builds a verifier. A cost of zero uses bcrypt.DefaultCost.
func NewPasswordVerifier(cost int) (*PasswordVerifier, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dpm-timing-equaliser"), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: password verifier: %w", err)
	}
	return &PasswordVerifier{cost: cost, dummy: dummy}, nil
}

// Verify compares plaintext with storedHash in constant time. A mismatch is (false, nil).
func (v *PasswordVerifier) Verify(plaintext, storedHash string) (bool, error) {
	if len(plaintext) > MaxPasswordLength {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// Equalize spends the same time as a real comparison. Used when no identity matched.
func (v *PasswordVerifier) Equalize(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(plaintext))
}

// Hash checks plaintext against the password policy and returns its bcrypt hash.
func (v *PasswordVerifier) Hash(plaintext string) (string, error) {
	if err := CheckPasswordStrength(plaintext); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), v.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPasswordStrength enforces length and letter/digit composition.
func CheckPasswordStrength(password string) error {
	switch {
	case password == "":
		return &shared.ValidationError{Field: "password", Message: "password is required"}
	case len(password) < MinPasswordLength:
		return &shared.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	case len(password) > MaxPasswordLength:
		return &shared.ValidationError{Field: "password", Message: fmt.Sprintf("password cannot exceed %d bytes", MaxPasswordLength)}
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter {
		return &shared.ValidationError{Field: "password", Message: "password must contain at least one letter"}
	}
	if !digit {
		return &shared.ValidationError{Field: "password", Message: "password must contain at least one number"}
	}
	return nil
}
