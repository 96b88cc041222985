// Package ledger содержит правила применения движений к кассе курьера и к балансу реселлера.
//
// Функции пакета не обращаются к хранилищу: вызывающий код применяет их внутри той же
// транзакции, в которой сохраняет результат, после блокировки строки счёта.
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// Direction: знак движения относительно баланса курьера.
type Direction int

const (
	Debit  Direction = -1
	Credit Direction = 1
)

// ErrChainBroken возвращается, если журнал движений не сходится с нарастающим итогом.
var ErrChainBroken = errors.New("movement chain broken")

// DirectionOf определяет знак движения по его виду и валюте.
func DirectionOf(kind model.MovementKind, cur model.Currency) (Direction, error) {
	switch kind {
	case model.MovementAllocation, model.MovementPickup:
		return Credit, nil
	case model.MovementWithdrawal, model.MovementDelivery:
		return Debit, nil
	case model.MovementCurrencySale:
		// продажа валюты: доллары уходят, песо приходят
		if cur == model.CurrencyCUP {
			return Credit, nil
		}
		return Debit, nil
	default:
		return 0, model.NewValidationError("kind", string(kind), "unsupported movement kind")
	}
}

// Apply рассчитывает остатки до и после движения и обновляет кэшированный баланс курьера.
// Движение, уводящее баланс в минус, отклоняется, курьер при этом не изменяется.
func Apply(courier *model.Courier, m model.CashMovement) (model.CashMovement, error) {
	if err := model.RequireMoney("amount", m.Amount); err != nil {
		return model.CashMovement{}, err
	}
	if m.Currency != model.CurrencyUSD && m.Currency != model.CurrencyCUP {
		return model.CashMovement{}, model.NewValidationError("currency", string(m.Currency), "unsupported currency")
	}
	if m.Kind == model.MovementCurrencySale {
		if m.ExchangeRate == nil {
			return model.CashMovement{}, model.NewValidationError("exchange_rate", "", "required for currency sale")
		}
		if err := model.RequireRate("exchange_rate", *m.ExchangeRate); err != nil {
			return model.CashMovement{}, err
		}
	}

	dir, err := DirectionOf(m.Kind, m.Currency)
	if err != nil {
		return model.CashMovement{}, err
	}

	before := courier.Balance(m.Currency)
	after := before.Add(m.Amount.Mul(decimal.NewFromInt(int64(dir))))
	if after.IsNegative() {
		return model.CashMovement{}, model.NewInsufficientBalanceError("balance_"+strings.ToLower(string(m.Currency)), m.Amount, before)
	}

	m.CourierID = courier.ID
	m.BalanceBefore = before
	m.BalanceAfter = after
	courier.SetBalance(m.Currency, after)

	return m, nil
}

// Balances: остатки курьера по валютам.
type Balances struct {
	USD decimal.Decimal `json:"usd"`
	CUP decimal.Decimal `json:"cup"`
}

// Get возвращает остаток в валюте.
func (b Balances) Get(cur model.Currency) decimal.Decimal {
	if cur == model.CurrencyUSD {
		return b.USD
	}
	return b.CUP
}

func (b *Balances) set(cur model.Currency, v decimal.Decimal) {
	if cur == model.CurrencyUSD {
		b.USD = v
		return
	}
	b.CUP = v
}

// Fold сворачивает журнал движений (в порядке записи) в остатки и проверяет непрерывность цепочки.
func Fold(movements []model.CashMovement) (Balances, error) {
	var b Balances
	for _, m := range movements {
		dir, err := DirectionOf(m.Kind, m.Currency)
		if err != nil {
			return Balances{}, err
		}
		cur := b.Get(m.Currency)
		if !m.BalanceBefore.Equal(cur) {
			return Balances{}, fmt.Errorf("%w: movement %d expects %s before, log has %s",
				ErrChainBroken, m.ID, m.BalanceBefore, cur)
		}
		next := cur.Add(m.Amount.Mul(decimal.NewFromInt(int64(dir))))
		if !m.BalanceAfter.Equal(next) {
			return Balances{}, fmt.Errorf("%w: movement %d records %s after, log gives %s",
				ErrChainBroken, m.ID, m.BalanceAfter, next)
		}
		if next.IsNegative() {
			return Balances{}, fmt.Errorf("%w: movement %d drives balance negative", ErrChainBroken, m.ID)
		}
		b.set(m.Currency, next)
	}
	return b, nil
}

// Drift: расхождение кэшированного баланса с журналом.
type Drift struct {
	Currency model.Currency  `json:"currency"`
	Cached   decimal.Decimal `json:"cached"`
	Ledger   decimal.Decimal `json:"ledger"`
}

// Reconcile сравнивает кэшированные остатки курьера с результатом свёртки журнала.
func Reconcile(courier model.Courier, movements []model.CashMovement) (Balances, []Drift, error) {
	folded, err := Fold(movements)
	if err != nil {
		return Balances{}, nil, err
	}

	var drift []Drift
	for _, cur := range []model.Currency{model.CurrencyUSD, model.CurrencyCUP} {
		if !courier.Balance(cur).Equal(folded.Get(cur)) {
			drift = append(drift, Drift{Currency: cur, Cached: courier.Balance(cur), Ledger: folded.Get(cur)})
		}
	}
	return folded, drift, nil
}

// Accrue увеличивает накопленную комиссию реселлера.
func Accrue(r *model.Reseller, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return model.NewValidationError("amount", amount.String(), "accrual must not be negative")
	}
	r.PendingBalance = r.PendingBalance.Add(amount)
	return nil
}

// ApplyPayment списывает выплату с накопленной комиссии реселлера.
func ApplyPayment(r *model.Reseller, p model.ResellerPayment) (model.ResellerPayment, error) {
	if err := model.RequireMoney("amount", p.Amount); err != nil {
		return model.ResellerPayment{}, err
	}

	before := r.PendingBalance
	after := before.Sub(p.Amount)
	if after.IsNegative() {
		return model.ResellerPayment{}, model.NewInsufficientBalanceError("pending_balance", p.Amount, before)
	}

	p.ResellerID = r.ID
	p.BalanceBefore = before
	p.BalanceAfter = after
	r.PendingBalance = after

	return p, nil
}

