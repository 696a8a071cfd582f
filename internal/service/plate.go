package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxPlateLength         = 12
	maxPaymentMethodLength = 32
)

var platePattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

// NormalizePlate uppercases a plate and strips whitespace; it rejects empty
// plates and anything outside letters, digits and hyphens.
func NormalizePlate(raw string) (string, error) {
	plate := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)

	if plate == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlate)
	}
	if len(plate) > maxPlateLength {
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidPlate, plate, maxPlateLength)
	}
	if !platePattern.MatchString(plate) {
		return "", fmt.Errorf("%w: %q contains unsupported characters", ErrInvalidPlate, plate)
	}
	return plate, nil
}

func normalizePaymentMethod(raw string) (string, error) {
	method := strings.TrimSpace(raw)
	if len(method) > maxPaymentMethodLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidPaymentMethod, maxPaymentMethodLength)
	}
	return method, nil
}
