package electronic

import (
	"fmt"
	"hash/crc32"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// AccessKeyLength is the fixed length of an access key.
const AccessKeyLength = 49

// AccessKeyParams are the parts of an access key, in key order.
type AccessKeyParams struct {
	IssueDate    time.Time
	DocumentCode string // 2 digits
	RUC          string // 13 digits
	Environment  string // 1 test, 2 production
	Series       string // establishment + emission point, 6 digits
	Sequential   int64
	NumericCode  string // 8 digits
	EmissionType string // 1 digit
}

// GenerateAccessKey assembles the 48 data digits and appends the mod-11 check digit.
func GenerateAccessKey(p AccessKeyParams) (string, error) {
	parts := []struct {
		name  string
		value string
		width int
	}{
		{"documentCode", p.DocumentCode, 2},
		{"ruc", p.RUC, 13},
		{"environment", p.Environment, 1},
		{"series", p.Series, 6},
		{"numericCode", p.NumericCode, 8},
		{"emissionType", p.EmissionType, 1},
	}
	for _, part := range parts {
		if len(part.value) != part.width || !digits(part.value) {
			return "", apperror.NewValidation(fmt.Sprintf("%s must be %d digits", part.name, part.width)).
				WithDetail("field", part.name)
		}
	}
	if p.Environment != "1" && p.Environment != "2" {
		return "", apperror.NewValidation("environment must be 1 (test) or 2 (production)")
	}
	if p.Sequential <= 0 || p.Sequential > 999_999_999 {
		return "", apperror.NewValidation("sequential out of range").WithDetail("sequential", p.Sequential)
	}
	if p.IssueDate.IsZero() {
		return "", apperror.NewValidation("issue date is required")
	}

	base := p.IssueDate.Format("02012006") +
		p.DocumentCode +
		p.RUC +
		p.Environment +
		p.Series +
		fmt.Sprintf("%09d", p.Sequential) +
		p.NumericCode +
		p.EmissionType
	return fmt.Sprintf("%s%d", base, CheckDigit(base)), nil
}

// CheckDigit computes the modulo-11 digit with weights 2..7 cycling from the
// right. A result of 11 maps to 0 and 10 maps to 1.
func CheckDigit(data string) int {
	sum, weight := 0, 2
	for i := len(data) - 1; i >= 0; i-- {
		sum += int(data[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	switch d := 11 - sum%11; d {
	case 11:
		return 0
	case 10:
		return 1
	default:
		return d
	}
}

// ValidateAccessKey checks length, charset and check digit.
func ValidateAccessKey(key string) error {
	if len(key) != AccessKeyLength {
		return apperror.NewValidation("access key must have 49 digits").WithDetail("length", len(key))
	}
	if !digits(key) {
		return apperror.NewValidation("access key must be numeric")
	}
	if want := CheckDigit(key[:48]); int(key[48]-'0') != want {
		return apperror.NewValidation("access key check digit mismatch").WithDetail("expected", want)
	}
	return nil
}

// AccessKeyEnvironment returns the environment digit of a well-formed key.
func AccessKeyEnvironment(key string) string {
	if len(key) != AccessKeyLength {
		return ""
	}
	return key[23:24]
}

// NumericCode derives the 8-digit code from the parent id, so that a retried
// issue regenerates the same key.
func NumericCode(parentID id.ID) string {
	return fmt.Sprintf("%08d", crc32.ChecksumIEEE(parentID[:])%100_000_000)
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
