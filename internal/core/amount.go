// Package core provides the waste-ledger domain model.
//
// This file contains parsing of quantities typed by the user when amending
// an extracted certificate.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a decimal string in kilograms to a float64.
//
// It accepts both dot (12.5) and comma (12,5) decimal separators. Zero is a
// valid quantity; signs, exponents and anything non-numeric are rejected.
//
// Examples:
//
//	ParseAmount("123.4") -> 123.4, nil
//	ParseAmount("123,4") -> 123.4, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return 0, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return 0, ErrInvalidAmount
			}
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if err := ValidateAmount(v); err != nil {
		return 0, err
	}
	return v, nil
}

// FormatKg renders a quantity the way the ledger displays it ("123,4 kg").
func FormatKg(kg float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(kg, 'f', -1, 64), ".", ",") + " kg"
}
