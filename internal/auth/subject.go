package auth

import (
	"regexp"
	"strings"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Subjects are Chilean RUTs: seven or eight digits, a dash and a check digit.
var subjectPattern = regexp.MustCompile(`^\d{7,8}-[\dK]$`)

var (
	// ErrInvalidSubject rejects identifiers that do not match the RUT format.
	ErrInvalidSubject = &shared.ValidationError{Field: "subject", Message: "subject must use the format XXXXXXX-X or XXXXXXXX-X"}
	// ErrSubjectCheckDigit rejects well-formed RUTs with a wrong check digit.
	ErrSubjectCheckDigit = &shared.ValidationError{Field: "subject", Message: "subject check digit is not valid"}
)

// NormalizeSubject trims and upper-cases raw and verifies its format.
func NormalizeSubject(raw string) (string, error) {
	subject := strings.ToUpper(strings.TrimSpace(raw))
	if !subjectPattern.MatchString(subject) {
		return "", ErrInvalidSubject
	}
	return subject, nil
}

// ValidCheckDigit verifies the modulo-11 check digit of a normalized subject.
func ValidCheckDigit(subject string) bool {
	number, dv, ok := strings.Cut(subject, "-")
	if !ok || number == "" || len(dv) != 1 {
		return false
	}
	sum, factor := 0, 2
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	var want byte
	switch rest := 11 - sum%11; rest {
	case 11:
		want = '0'
	case 10:
		want = 'K'
	default:
		want = byte('0' + rest)
	}
	return dv[0] == want
}
