// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts typed by users
// (both "1234.56" and the Brazilian "1.234,56" / "R$ 1.234,56" forms).
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of decimal places kept for every amount.
const AmountPlaces = 2

// ParseAmount converts a user supplied decimal string to a positive amount
// rounded half-up to two places.
//
// Examples:
//
//	ParseAmount("12.34")       -> 12.34
//	ParseAmount("12,34")       -> 12.34
//	ParseAmount("R$ 1.234,56") -> 1234.56
//	ParseAmount("1.005")       -> 1.01
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	// A comma present means it is the decimal separator and dots group thousands.
	if strings.Contains(s, ",") {
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = RoundAmount(d)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundAmount rounds half away from zero to AmountPlaces.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// SumAmounts adds up amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
