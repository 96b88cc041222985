package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireMoney(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{value: "100", wantErr: false},
		{value: "100.5", wantErr: false},
		{value: "100.05", wantErr: false},
		{value: "100.050000", wantErr: false},
		{value: "0.01", wantErr: false},
		{value: "100.005", wantErr: true},
		{value: "0.015", wantErr: true},
		{value: "0.001", wantErr: true},
		{value: "0", wantErr: true},
		{value: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := RequireMoney("amount", decimal.RequireFromString(tt.value))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)

			var domainErr *Error
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, "amount", domainErr.Field)
		})
	}
}

func TestRequireRate(t *testing.T) {
	assert.NoError(t, RequireRate("rate", decimal.RequireFromString("435.123457")))
	assert.NoError(t, RequireRate("rate", decimal.RequireFromString("435.1234570")))
	assert.ErrorIs(t, RequireRate("rate", decimal.RequireFromString("435.1234567")), ErrValidation)
	assert.ErrorIs(t, RequireRate("rate", decimal.Zero), ErrValidation)
}

func TestRequireScale(t *testing.T) {
	assert.NoError(t, RequireScale("percentage", decimal.RequireFromString("2.5375"), PercentPlaces))
	assert.ErrorIs(t, RequireScale("percentage", decimal.RequireFromString("2.53751"), PercentPlaces), ErrValidation)
	assert.NoError(t, RequireScale("range_min", decimal.RequireFromString("-3.10"), MoneyPlaces))
}
