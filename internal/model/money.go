package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Точность хранения денежных сумм, процентов и курсов.
const (
	MoneyPlaces   = 2
	PercentPlaces = 4
	RatePlaces    = 6
)

// RequireScale проверяет, что значение не содержит знаков дробной части больше places.
func RequireScale(field string, v decimal.Decimal, places int32) error {
	if v.Equal(v.Truncate(places)) {
		return nil
	}
	return NewValidationError(field, v.String(), "at most "+strconv.Itoa(int(places))+" decimal places allowed")
}

// RequireMoney проверяет денежную сумму: строго больше нуля и не точнее сотых.
func RequireMoney(field string, v decimal.Decimal) error {
	if err := RequirePositive(field, v); err != nil {
		return err
	}
	return RequireScale(field, v, MoneyPlaces)
}

// RequireRate проверяет курс: строго больше нуля и не точнее шести знаков.
func RequireRate(field string, v decimal.Decimal) error {
	if err := RequirePositive(field, v); err != nil {
		return err
	}
	return RequireScale(field, v, RatePlaces)
}
