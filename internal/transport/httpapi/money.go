package httpapi

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// minorDigits - количество знаков после запятой у валюты.
const minorDigits = 2

var (
	errMoneyFormat    = errors.New("must be a decimal amount like 3.50")
	errMoneyPrecision = errors.New("must have at most two fractional digits")
	errMoneyNegative  = errors.New("must be non-negative")
	errMoneyRange     = errors.New("is too large")
)

// ParseMoney переводит строку вида "3.50" в минимальные единицы (350).
func ParseMoney(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, errMoneyFormat
	}
	if amount.IsNegative() {
		return 0, errMoneyNegative
	}
	minor := amount.Shift(minorDigits)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errMoneyPrecision
	}
	if !minor.BigInt().IsInt64() {
		return 0, errMoneyRange
	}
	return minor.IntPart(), nil
}

// FormatMoney выводит минимальные единицы строкой с двумя знаками.
func FormatMoney(minor int64) string {
	return decimal.New(minor, -minorDigits).StringFixed(minorDigits)
}
