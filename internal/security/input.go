// Package security validates free text supplied by API clients before it
// is stored.
package security

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum size")
	ErrNullByteDetected  = errors.New("null byte detected in input")
	ErrInvalidEncoding   = errors.New("input is not valid UTF-8")
	ErrControlCharacter  = errors.New("control character in input")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// Field limits for the text columns clients can set
const (
	MaxNameLength  = 200
	MaxNotesLength = 4000
)

type InputValidator struct {
	MaxSize       int
	MaxRepetition int
	// AllowNewlines permits \n, \r and \t, for multi-line notes
	AllowNewlines bool
}

// NewInputValidator returns a validator for single-line names
func NewInputValidator() *InputValidator {
	return &InputValidator{
		MaxSize:       MaxNameLength,
		MaxRepetition: 50,
	}
}

// NewNotesValidator returns a validator for multi-line notes
func NewNotesValidator() *InputValidator {
	return &InputValidator{
		MaxSize:       MaxNotesLength,
		MaxRepetition: 200,
		AllowNewlines: true,
	}
}

func (v *InputValidator) Validate(input string) error {
	if v.MaxSize > 0 && len(input) > v.MaxSize {
		return ErrInputTooLarge
	}
	if !utf8.ValidString(input) {
		return ErrInvalidEncoding
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if unicode.IsControl(r) {
			if v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t') {
				continue
			}
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

// Field validates input and names the field in the error
func (v *InputValidator) Field(name, input string) error {
	if err := v.Validate(input); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) < maxLen {
		return false
	}

	runes := []rune(input)
	consecutiveCount := 1

	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			consecutiveCount++
			if consecutiveCount > maxLen {
				return true
			}
		} else {
			consecutiveCount = 1
		}
	}

	return false
}

// ValidateName checks a single-line name such as a medication or allergen
func ValidateName(field, input string) error {
	return NewInputValidator().Field(field, input)
}

// ValidateNotes checks multi-line free text
func ValidateNotes(field, input string) error {
	return NewNotesValidator().Field(field, input)
}
