package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testCalculator() *Calculator {
	return NewCalculator(Config{
		LocalDiscountPerUnit:   dec("15"),
		HardCurrencyFeePercent: dec("5"),
	})
}

func openTier() []model.CommissionTier {
	return []model.CommissionTier{
		{Name: "all", RangeMin: dec("0"), Percentage: dec("3"), FixedFee: dec("2"), Active: true},
	}
}

func TestCalculate_LocalDelivery(t *testing.T) {
	res, err := testCalculator().Calculate(Input{
		Amount:       dec("100"),
		DeliveryType: model.DeliveryLocal,
		Rate:         dec("435"),
		Tiers:        openTier(),
	})
	require.NoError(t, err)

	assert.True(t, res.TotalCommission.Equal(dec("5")), "total commission = %s", res.TotalCommission)
	assert.True(t, res.TotalCharged.Equal(dec("105")), "total charged = %s", res.TotalCharged)
	assert.True(t, res.DeliveryAmount.Equal(dec("42000")), "delivery amount = %s", res.DeliveryAmount)
	assert.Equal(t, model.CurrencyCUP, res.DeliveryCurrency)
	assert.True(t, res.ExchangeRate.Equal(dec("435")))
	assert.Nil(t, res.PlatformCommission)
	assert.Nil(t, res.ResellerCommission)
}

func TestCalculate_HardDeliveryUsesFlatFee(t *testing.T) {
	res, err := testCalculator().Calculate(Input{
		Amount:       dec("200"),
		DeliveryType: model.DeliveryHard,
	})
	require.NoError(t, err)

	assert.Equal(t, model.CurrencyUSD, res.DeliveryCurrency)
	assert.True(t, res.DeliveryAmount.Equal(dec("200")))
	assert.True(t, res.CommissionPercentage.Equal(dec("5")))
	assert.True(t, res.CommissionFixed.IsZero())
	assert.True(t, res.TotalCommission.Equal(dec("10")))
	assert.True(t, res.TotalCharged.Equal(dec("210")))
	assert.True(t, res.ExchangeRate.Equal(dec("1")))
}

func TestCalculate_Deterministic(t *testing.T) {
	calc := testCalculator()
	in := Input{
		Amount:       dec("100"),
		DeliveryType: model.DeliveryLocal,
		Rate:         dec("435"),
		Tiers:        openTier(),
	}

	first, err := calc.Calculate(in)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		got, err := calc.Calculate(in)
		require.NoError(t, err)
		require.Equal(t, first.DeliveryAmount.String(), got.DeliveryAmount.String())
		require.Equal(t, first.TotalCommission.String(), got.TotalCommission.String())
		require.Equal(t, first.TotalCharged.String(), got.TotalCharged.String())
		require.Equal(t, first.CommissionPercentage.String(), got.CommissionPercentage.String())
		require.Equal(t, first.CommissionFixed.String(), got.CommissionFixed.String())
	}
}

func TestCalculate_NoTierForAmount(t *testing.T) {
	tiers := []model.CommissionTier{
		{Name: "small", RangeMin: dec("0"), RangeMax: decPtr("100"), Percentage: dec("3"), Active: true},
		{Name: "big", RangeMin: dec("500"), Percentage: dec("2"), Active: true},
		{Name: "disabled", RangeMin: dec("100"), RangeMax: decPtr("500"), Percentage: dec("1"), Active: false},
	}

	_, err := testCalculator().Calculate(Input{
		Amount:       dec("250"),
		DeliveryType: model.DeliveryLocal,
		Rate:         dec("400"),
		Tiers:        tiers,
	})
	require.ErrorIs(t, err, model.ErrNoTierForAmount)

	var domainErr *model.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "amount", domainErr.Field)
	assert.Equal(t, "250", domainErr.Value)
}

func TestCalculate_TierBoundaryIsHalfOpen(t *testing.T) {
	tiers := []model.CommissionTier{
		{Name: "low", RangeMin: dec("0"), RangeMax: decPtr("100"), Percentage: dec("4"), Active: true},
		{Name: "high", RangeMin: dec("100"), Percentage: dec("2"), FixedFee: dec("1"), Active: true},
	}

	res, err := testCalculator().Calculate(Input{
		Amount:       dec("100"),
		DeliveryType: model.DeliveryLocal,
		Rate:         dec("400"),
		Tiers:        tiers,
	})
	require.NoError(t, err)
	assert.True(t, res.CommissionPercentage.Equal(dec("2")))
	assert.True(t, res.TotalCommission.Equal(dec("3")))
}

func TestCalculate_ResellerSplit(t *testing.T) {
	tests := []struct {
		name         string
		resellerRate string
		wantReseller string
		wantPlatform string
	}{
		{name: "share of commission", resellerRate: "2", wantReseller: "2", wantPlatform: "3"},
		{name: "zero rate", resellerRate: "0", wantReseller: "0", wantPlatform: "5"},
		{name: "capped at total commission", resellerRate: "10", wantReseller: "5", wantPlatform: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testCalculator().Calculate(Input{
				Amount:       dec("100"),
				DeliveryType: model.DeliveryLocal,
				Rate:         dec("435"),
				Tiers:        openTier(),
				ResellerRate: decPtr(tt.resellerRate),
			})
			require.NoError(t, err)
			require.NotNil(t, res.ResellerCommission)
			require.NotNil(t, res.PlatformCommission)
			assert.True(t, res.ResellerCommission.Equal(dec(tt.wantReseller)), "reseller = %s", res.ResellerCommission)
			assert.True(t, res.PlatformCommission.Equal(dec(tt.wantPlatform)), "platform = %s", res.PlatformCommission)
			assert.True(t, res.TotalCharged.Equal(dec("105")), "sender is charged once")
		})
	}
}

func TestCalculate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{
			name:  "zero amount",
			in:    Input{Amount: dec("0"), DeliveryType: model.DeliveryHard},
			field: "amount",
		},
		{
			name:  "negative amount",
			in:    Input{Amount: dec("-5"), DeliveryType: model.DeliveryHard},
			field: "amount",
		},
		{
			name:  "amount finer than cents",
			in:    Input{Amount: dec("100.005"), DeliveryType: model.DeliveryLocal, Rate: dec("435"), Tiers: openTier()},
			field: "amount",
		},
		{
			name:  "hard amount finer than cents",
			in:    Input{Amount: dec("0.001"), DeliveryType: model.DeliveryHard},
			field: "amount",
		},
		{
			name:  "rate finer than storage",
			in:    Input{Amount: dec("10"), DeliveryType: model.DeliveryLocal, Rate: dec("435.1234567"), Tiers: openTier()},
			field: "exchange_rate",
		},
		{
			name:  "missing rate",
			in:    Input{Amount: dec("10"), DeliveryType: model.DeliveryLocal, Tiers: openTier()},
			field: "exchange_rate",
		},
		{
			name:  "rate below discount",
			in:    Input{Amount: dec("10"), DeliveryType: model.DeliveryLocal, Rate: dec("15"), Tiers: openTier()},
			field: "delivery_amount",
		},
		{
			name:  "unknown delivery type",
			in:    Input{Amount: dec("10"), DeliveryType: "crypto"},
			field: "delivery_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testCalculator().Calculate(tt.in)
			require.ErrorIs(t, err, model.ErrValidation)

			var domainErr *model.Error
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.field, domainErr.Field)
		})
	}
}

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name    string
		tiers   []model.CommissionTier
		wantErr bool
	}{
		{
			name: "adjacent ranges",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), RangeMax: decPtr("100"), Active: true},
				{Name: "b", RangeMin: dec("100"), Active: true},
			},
		},
		{
			name: "overlap",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), RangeMax: decPtr("150"), Active: true},
				{Name: "b", RangeMin: dec("100"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "open-ended tier before another",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), Active: true},
				{Name: "b", RangeMin: dec("1000"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "overlap with inactive tier is allowed",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), Active: true},
				{Name: "b", RangeMin: dec("50"), Active: false},
			},
		},
		{
			name: "empty range",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("10"), RangeMax: decPtr("10"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "fixed fee finer than cents",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), FixedFee: dec("1.005"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "bounds finer than cents",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0.001"), RangeMax: decPtr("100"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "upper bound finer than cents",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), RangeMax: decPtr("99.999"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "percentage finer than storage",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), Percentage: dec("3.00001"), Active: true},
			},
			wantErr: true,
		},
		{
			name: "negative fee",
			tiers: []model.CommissionTier{
				{Name: "a", RangeMin: dec("0"), FixedFee: dec("-1"), Active: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.tiers)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCalculate_TotalChargedAddsUp(t *testing.T) {
	tiers := []model.CommissionTier{
		{Name: "all", RangeMin: dec("0"), Percentage: dec("3.3333"), FixedFee: dec("1.99"), Active: true},
	}

	for _, amount := range []string{"0.01", "1.07", "99.99", "100.5", "1234.56"} {
		res, err := testCalculator().Calculate(Input{
			Amount:       dec(amount),
			DeliveryType: model.DeliveryLocal,
			Rate:         dec("435.123457"),
			Tiers:        tiers,
		})
		require.NoError(t, err, amount)
		assert.True(t, res.TotalCharged.Equal(dec(amount).Add(res.TotalCommission)), amount)
		assert.NoError(t, model.RequireScale("total_charged", res.TotalCharged, model.MoneyPlaces), amount)
		assert.NoError(t, model.RequireScale("delivery_amount", res.DeliveryAmount, model.MoneyPlaces), amount)
	}
}
