package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a decimal amount cannot be represented in minor units.
var ErrInvalidAmount = errors.New("domain: invalid amount")

const minorUnitDigits = 2

// ParseAmount converts a decimal string such as "59.99" into minor units (5999).
// At most two fractional digits are accepted; negative values are rejected.
func ParseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if strings.HasPrefix(value, "-") {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, value)
	}
	value = strings.TrimPrefix(value, "+")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > minorUnitDigits {
		trimmed := strings.TrimRight(frac[minorUnitDigits:], "0")
		if trimmed != "" {
			return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, value, minorUnitDigits)
		}
		frac = frac[:minorUnitDigits]
	}
	for len(frac) < minorUnitDigits {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return units*100 + cents, nil
}

// FormatAmount renders minor units as a decimal string with two fractional digits.
func FormatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
