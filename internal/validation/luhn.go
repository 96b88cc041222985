// Package validation содержит функции генерации и проверки кодов отслеживания.
package validation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	// TrackingPrefix: префикс публичного кода отслеживания.
	TrackingPrefix = "RM"
	trackingDigits = 9
)

// IsValidLuhn проверяет строку цифр по алгоритму Луна.
func IsValidLuhn(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// luhnCheckDigit вычисляет контрольную цифру для строки цифр.
func luhnCheckDigit(payload string) byte {
	sum := 0
	double := true

	for i := len(payload) - 1; i >= 0; i-- {
		digit := int(payload[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return byte('0' + (10-sum%10)%10)
}

// NewTrackingCode генерирует случайный код отслеживания с контрольной цифрой.
func NewTrackingCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(trackingDigits), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate tracking code: %w", err)
	}

	payload := fmt.Sprintf("%0*d", trackingDigits, n)
	return TrackingPrefix + payload + string(luhnCheckDigit(payload)), nil
}

// IsValidTrackingCode проверяет формат и контрольную цифру кода отслеживания.
func IsValidTrackingCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !strings.HasPrefix(code, TrackingPrefix) {
		return false
	}
	digits := strings.TrimPrefix(code, TrackingPrefix)
	if len(digits) != trackingDigits+1 {
		return false
	}
	return IsValidLuhn(digits)
}
