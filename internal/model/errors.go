package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind: вид доменной ошибки.
type Kind string

const (
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindRateUnavailable        Kind = "rate_unavailable"
	KindNoTierForAmount        Kind = "no_tier_for_amount"
	KindInsufficientBalance    Kind = "insufficient_balance"
	KindCourierInactive        Kind = "courier_inactive"
	KindDuplicateTrackingCode  Kind = "duplicate_tracking_code"
	KindValidation             Kind = "validation"
	KindForbidden              Kind = "forbidden"
)

// Error: доменная ошибка с указанием поля и значения, из-за которых операция отклонена.
type Error struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s=%s)", e.Kind, e.Message, e.Field, e.Value)
}

// Is сравнивает ошибки по виду, чтобы errors.Is работал с сентинелами ниже.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Сентинелы для сравнения через errors.Is.
var (
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	ErrRateUnavailable        = &Error{Kind: KindRateUnavailable, Message: "exchange rate unavailable"}
	ErrNoTierForAmount        = &Error{Kind: KindNoTierForAmount, Message: "no commission tier for amount"}
	ErrInsufficientBalance    = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrCourierInactive        = &Error{Kind: KindCourierInactive, Message: "courier is inactive"}
	ErrDuplicateTrackingCode  = &Error{Kind: KindDuplicateTrackingCode, Message: "tracking code already exists"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "operation not allowed for role"}
)

// NewValidationError возвращает ошибку валидации для поля.
func NewValidationError(field, value, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Value: value, Message: msg}
}

// RequirePositive проверяет, что сумма строго больше нуля.
func RequirePositive(field string, v decimal.Decimal) error {
	if v.IsPositive() {
		return nil
	}
	return NewValidationError(field, v.String(), "must be positive")
}

// NewInsufficientBalanceError описывает отказ из-за нехватки средств.
func NewInsufficientBalanceError(field string, requested, available decimal.Decimal) *Error {
	return &Error{
		Kind:    KindInsufficientBalance,
		Field:   field,
		Value:   requested.String(),
		Message: "available " + available.String(),
	}
}

// NewRateUnavailableError описывает отсутствие курса для пары.
func NewRateUnavailableError(pair Pair) *Error {
	return &Error{
		Kind:    KindRateUnavailable,
		Field:   "currency_pair",
		Value:   pair.String(),
		Message: "no exchange rate could be resolved",
	}
}

// NewNoTierError описывает сумму, не попавшую ни в один активный диапазон.
func NewNoTierError(amount decimal.Decimal) *Error {
	return &Error{
		Kind:    KindNoTierForAmount,
		Field:   "amount",
		Value:   amount.String(),
		Message: "no active commission tier covers amount",
	}
}

// NewCourierInactiveError описывает попытку назначить неактивного курьера.
func NewCourierInactiveError(courierID int64) *Error {
	return &Error{
		Kind:    KindCourierInactive,
		Field:   "courier_id",
		Value:   fmt.Sprint(courierID),
		Message: "courier is inactive",
	}
}

// NewForbiddenError описывает операцию, недоступную роли инициатора.
func NewForbiddenError(role Role, op string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Field:   "role",
		Value:   string(role),
		Message: op + " is not allowed",
	}
}
