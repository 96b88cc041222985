package ledger

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

func TestDirectionOf(t *testing.T) {
	tests := []struct {
		kind model.MovementKind
		cur  model.Currency
		want Direction
	}{
		{model.MovementAllocation, model.CurrencyUSD, Credit},
		{model.MovementPickup, model.CurrencyCUP, Credit},
		{model.MovementWithdrawal, model.CurrencyUSD, Debit},
		{model.MovementDelivery, model.CurrencyCUP, Debit},
		{model.MovementCurrencySale, model.CurrencyUSD, Debit},
		{model.MovementCurrencySale, model.CurrencyCUP, Credit},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.cur), func(t *testing.T) {
			got, err := DirectionOf(tt.kind, tt.cur)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DirectionOf("refund", model.CurrencyUSD)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestApply_WithdrawMoreThanBalance(t *testing.T) {
	courier := &model.Courier{ID: 7, BalanceUSD: dec("50")}

	_, err := Apply(courier, model.CashMovement{
		Kind:     model.MovementWithdrawal,
		Currency: model.CurrencyUSD,
		Amount:   dec("60"),
	})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	var domainErr *model.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "balance_usd", domainErr.Field)
	assert.Equal(t, "60", domainErr.Value)

	assert.True(t, courier.BalanceUSD.Equal(dec("50")), "balance must stay unchanged")
}

func TestApply_SequenceKeepsChain(t *testing.T) {
	courier := &model.Courier{ID: 3}
	rate := dec("400")

	steps := []model.CashMovement{
		{Kind: model.MovementAllocation, Currency: model.CurrencyUSD, Amount: dec("100")},
		{Kind: model.MovementAllocation, Currency: model.CurrencyCUP, Amount: dec("20000")},
		{Kind: model.MovementDelivery, Currency: model.CurrencyCUP, Amount: dec("15000")},
		{Kind: model.MovementCurrencySale, Currency: model.CurrencyUSD, Amount: dec("10"), ExchangeRate: &rate},
		{Kind: model.MovementCurrencySale, Currency: model.CurrencyCUP, Amount: dec("4000"), ExchangeRate: &rate},
		{Kind: model.MovementPickup, Currency: model.CurrencyUSD, Amount: dec("5.5")},
		{Kind: model.MovementWithdrawal, Currency: model.CurrencyUSD, Amount: dec("95.5")},
	}

	var log []model.CashMovement
	for i, s := range steps {
		m, err := Apply(courier, s)
		require.NoError(t, err, "step %d", i)
		require.False(t, m.BalanceAfter.IsNegative())
		assert.Equal(t, int64(3), m.CourierID)
		m.ID = int64(i + 1)
		log = append(log, m)
	}

	assert.True(t, courier.BalanceUSD.IsZero(), "usd = %s", courier.BalanceUSD)
	assert.True(t, courier.BalanceCUP.Equal(dec("9000")), "cup = %s", courier.BalanceCUP)

	folded, drift, err := Reconcile(*courier, log)
	require.NoError(t, err)
	assert.Empty(t, drift)
	assert.True(t, folded.CUP.Equal(dec("9000")))

	// последнее движение по каждой валюте совпадает с текущим остатком
	last := map[model.Currency]decimal.Decimal{}
	for _, m := range log {
		last[m.Currency] = m.BalanceAfter
	}
	assert.True(t, last[model.CurrencyUSD].Equal(courier.BalanceUSD))
	assert.True(t, last[model.CurrencyCUP].Equal(courier.BalanceCUP))
}

func TestApply_CurrencySaleRequiresRate(t *testing.T) {
	courier := &model.Courier{BalanceUSD: dec("10")}

	_, err := Apply(courier, model.CashMovement{
		Kind:     model.MovementCurrencySale,
		Currency: model.CurrencyUSD,
		Amount:   dec("5"),
	})
	require.ErrorIs(t, err, model.ErrValidation)
	assert.True(t, courier.BalanceUSD.Equal(dec("10")))
}

func TestApply_RejectsNonPositiveAmount(t *testing.T) {
	courier := &model.Courier{}
	for _, amount := range []string{"0", "-1"} {
		_, err := Apply(courier, model.CashMovement{
			Kind:     model.MovementAllocation,
			Currency: model.CurrencyUSD,
			Amount:   dec(amount),
		})
		assert.ErrorIs(t, err, model.ErrValidation, amount)
	}
}

func TestApply_RejectsAmountFinerThanCents(t *testing.T) {
	courier := &model.Courier{BalanceUSD: dec("1.00")}

	for _, amount := range []string{"0.015", "0.001", "0.999"} {
		_, err := Apply(courier, model.CashMovement{
			Kind:     model.MovementWithdrawal,
			Currency: model.CurrencyUSD,
			Amount:   dec(amount),
		})
		require.ErrorIs(t, err, model.ErrValidation, amount)
		assert.True(t, courier.BalanceUSD.Equal(dec("1.00")), amount)
	}

	m, err := Apply(courier, model.CashMovement{
		Kind:     model.MovementWithdrawal,
		Currency: model.CurrencyUSD,
		Amount:   dec("0.02"),
	})
	require.NoError(t, err)
	assert.True(t, m.BalanceAfter.Equal(dec("0.98")))
}

func TestApply_CurrencySaleRateFinerThanStorage(t *testing.T) {
	courier := &model.Courier{BalanceUSD: dec("10")}
	rate := dec("320.1234567")

	_, err := Apply(courier, model.CashMovement{
		Kind:         model.MovementCurrencySale,
		Currency:     model.CurrencyUSD,
		Amount:       dec("5"),
		ExchangeRate: &rate,
	})
	require.ErrorIs(t, err, model.ErrValidation)
	assert.True(t, courier.BalanceUSD.Equal(dec("10")))
}

func TestReconcile_DetectsDrift(t *testing.T) {
	log := []model.CashMovement{
		{ID: 1, Kind: model.MovementAllocation, Currency: model.CurrencyUSD, Amount: dec("40"), BalanceBefore: dec("0"), BalanceAfter: dec("40")},
	}
	courier := model.Courier{BalanceUSD: dec("45")}

	folded, drift, err := Reconcile(courier, log)
	require.NoError(t, err)
	assert.True(t, folded.USD.Equal(dec("40")))
	require.Len(t, drift, 1)
	assert.Equal(t, model.CurrencyUSD, drift[0].Currency)
	assert.True(t, drift[0].Cached.Equal(dec("45")))
}

func TestFold_BrokenChain(t *testing.T) {
	log := []model.CashMovement{
		{ID: 1, Kind: model.MovementAllocation, Currency: model.CurrencyUSD, Amount: dec("40"), BalanceBefore: dec("0"), BalanceAfter: dec("40")},
		{ID: 2, Kind: model.MovementWithdrawal, Currency: model.CurrencyUSD, Amount: dec("10"), BalanceBefore: dec("35"), BalanceAfter: dec("25")},
	}

	_, err := Fold(log)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestResellerPayments(t *testing.T) {
	r := &model.Reseller{ID: 9, PendingBalance: dec("20.00")}

	p, err := ApplyPayment(r, model.ResellerPayment{Amount: dec("20.00"), Method: model.PaymentCash})
	require.NoError(t, err)
	assert.True(t, p.BalanceAfter.IsZero())
	assert.True(t, r.PendingBalance.IsZero())

	_, err = ApplyPayment(r, model.ResellerPayment{Amount: dec("0.01"), Method: model.PaymentCash})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	assert.True(t, r.PendingBalance.IsZero())

	_, err = ApplyPayment(r, model.ResellerPayment{Amount: dec("0.005"), Method: model.PaymentCash})
	require.ErrorIs(t, err, model.ErrValidation)

	require.NoError(t, Accrue(r, dec("3.50")))
	assert.True(t, r.PendingBalance.Equal(dec("3.5")))

	assert.ErrorIs(t, Accrue(r, dec("-1")), model.ErrValidation)
}
