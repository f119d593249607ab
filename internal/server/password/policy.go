// Package password validates password strength and hashes passwords.
package password

import (
	"fmt"
	"strings"
	"unicode"
)

// SpecialCharacters is the set that satisfies the special-character rule.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

// BcryptMaxBytes is the longest input bcrypt accepts.
const BcryptMaxBytes = 72

// Policy describes the strength rules. Every enabled rule is checked, so
// a failing Result lists all violations, not just the first.
type Policy struct {
	MinLength      int
	MaxBytes       int // zero disables the cap
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxBytes:       BcryptMaxBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

type Result struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Err returns nil for a valid result, otherwise a *ValidationError.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &ValidationError{Messages: r.Errors}
}

// ValidationError carries every failed rule.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "Password validation failed: " + strings.Join(e.Messages, ", ")
}

func (p Policy) Validate(pw string) Result {
	errs := make([]string, 0, 6)

	if len([]rune(pw)) < p.MinLength {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}
	if p.MaxBytes > 0 && len(pw) > p.MaxBytes {
		errs = append(errs, fmt.Sprintf("Password must be at most %d bytes long", p.MaxBytes))
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(SpecialCharacters, r) {
			special = true
		}
	}

	if p.RequireUpper && !upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if p.RequireLower && !lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if p.RequireSpecial && !special {
		errs = append(errs, "Password must contain at least one special character")
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}
