// Package pricing рассчитывает сумму выдачи, комиссии и итог к оплате для заказа.
//
// Расчёт детерминирован: результат зависит только от входных данных и конфигурации,
// поэтому его можно повторять для предварительной оценки без побочных эффектов.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

const moneyPlaces = model.MoneyPlaces

var hundred = decimal.NewFromInt(100)

// Config содержит настраиваемые параметры ценообразования.
type Config struct {
	// LocalDiscountPerUnit: скидка в валюте выдачи на каждую единицу исходной суммы.
	LocalDiscountPerUnit decimal.Decimal
	// HardCurrencyFeePercent: плоская комиссия для выдачи в твёрдой валюте.
	HardCurrencyFeePercent decimal.Decimal
}

// Input: параметры одного расчёта.
type Input struct {
	Amount       decimal.Decimal
	DeliveryType model.DeliveryType
	// Rate применяется только к выдаче в местной валюте.
	Rate         decimal.Decimal
	Tiers        []model.CommissionTier
	ResellerRate *decimal.Decimal
}

// Result: рассчитанные суммы заказа.
type Result struct {
	ExchangeRate         decimal.Decimal
	DeliveryAmount       decimal.Decimal
	DeliveryCurrency     model.Currency
	CommissionPercentage decimal.Decimal
	CommissionFixed      decimal.Decimal
	TotalCommission      decimal.Decimal
	TotalCharged         decimal.Decimal
	PlatformCommission   *decimal.Decimal
	ResellerCommission   *decimal.Decimal
}

// Calculator рассчитывает стоимость заказов по заданной конфигурации.
type Calculator struct {
	cfg Config
}

// NewCalculator создаёт калькулятор комиссий.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config возвращает конфигурацию калькулятора.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Calculate рассчитывает суммы заказа.
func (c *Calculator) Calculate(in Input) (Result, error) {
	if err := model.RequireMoney("amount", in.Amount); err != nil {
		return Result{}, err
	}

	var res Result

	switch in.DeliveryType {
	case model.DeliveryLocal:
		if err := model.RequireRate("exchange_rate", in.Rate); err != nil {
			return Result{}, err
		}
		tier, err := SelectTier(in.Tiers, in.Amount)
		if err != nil {
			return Result{}, err
		}

		discount := c.cfg.LocalDiscountPerUnit.Mul(in.Amount)
		delivery := in.Amount.Mul(in.Rate).Sub(discount).Round(moneyPlaces)
		if !delivery.IsPositive() {
			return Result{}, model.NewValidationError("delivery_amount", delivery.String(),
				"exchange rate does not cover the per-unit discount")
		}

		res.ExchangeRate = in.Rate
		res.DeliveryAmount = delivery
		res.DeliveryCurrency = model.CurrencyCUP
		res.CommissionPercentage = tier.Percentage
		res.CommissionFixed = tier.FixedFee

	case model.DeliveryHard:
		res.ExchangeRate = decimal.NewFromInt(1)
		res.DeliveryAmount = in.Amount.Round(moneyPlaces)
		res.DeliveryCurrency = model.CurrencyUSD
		res.CommissionPercentage = c.cfg.HardCurrencyFeePercent
		res.CommissionFixed = decimal.Zero

	default:
		return Result{}, model.NewValidationError("delivery_type", string(in.DeliveryType), "unsupported delivery type")
	}

	res.TotalCommission = percentOf(in.Amount, res.CommissionPercentage).Add(res.CommissionFixed).Round(moneyPlaces)
	res.TotalCharged = in.Amount.Add(res.TotalCommission).Round(moneyPlaces)

	if in.ResellerRate != nil {
		if in.ResellerRate.IsNegative() {
			return Result{}, model.NewValidationError("commission_rate", in.ResellerRate.String(), "must not be negative")
		}
		earning := percentOf(in.Amount, *in.ResellerRate).Round(moneyPlaces)
		if earning.GreaterThan(res.TotalCommission) {
			earning = res.TotalCommission
		}
		platform := res.TotalCommission.Sub(earning)
		res.ResellerCommission = &earning
		res.PlatformCommission = &platform
	}

	return res, nil
}

func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// SelectTier возвращает активный диапазон, содержащий сумму.
func SelectTier(tiers []model.CommissionTier, amount decimal.Decimal) (model.CommissionTier, error) {
	for _, t := range sortedActive(tiers) {
		if t.Contains(amount) {
			return t, nil
		}
	}
	return model.CommissionTier{}, model.NewNoTierError(amount)
}

// ValidateTiers проверяет корректность диапазонов и отсутствие пересечений среди активных.
func ValidateTiers(tiers []model.CommissionTier) error {
	active := sortedActive(tiers)
	for i, t := range active {
		if err := requireTierScale(t); err != nil {
			return err
		}
		if t.RangeMin.IsNegative() {
			return model.NewValidationError("range_min", t.RangeMin.String(), "must not be negative")
		}
		if t.RangeMax != nil && !t.RangeMax.GreaterThan(t.RangeMin) {
			return model.NewValidationError("range_max", t.RangeMax.String(), "must be greater than range_min")
		}
		if t.Percentage.IsNegative() {
			return model.NewValidationError("percentage", t.Percentage.String(), "must not be negative")
		}
		if t.FixedFee.IsNegative() {
			return model.NewValidationError("fixed_fee", t.FixedFee.String(), "must not be negative")
		}
		if i == 0 {
			continue
		}
		prev := active[i-1]
		if prev.RangeMax == nil || prev.RangeMax.GreaterThan(t.RangeMin) {
			return model.NewValidationError("range_min", t.RangeMin.String(), "overlaps tier "+prev.Name)
		}
	}
	return nil
}

func requireTierScale(t model.CommissionTier) error {
	if err := model.RequireScale("range_min", t.RangeMin, model.MoneyPlaces); err != nil {
		return err
	}
	if t.RangeMax != nil {
		if err := model.RequireScale("range_max", *t.RangeMax, model.MoneyPlaces); err != nil {
			return err
		}
	}
	if err := model.RequireScale("fixed_fee", t.FixedFee, model.MoneyPlaces); err != nil {
		return err
	}
	return model.RequireScale("percentage", t.Percentage, model.PercentPlaces)
}

func sortedActive(tiers []model.CommissionTier) []model.CommissionTier {
	active := make([]model.CommissionTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Active {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].RangeMin.LessThan(active[j].RangeMin)
	})
	return active
}
