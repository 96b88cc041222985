package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/ledger"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// MovementInput: параметры одиночного движения по кассе курьера.
type MovementInput struct {
	CourierID    int64
	Currency     model.Currency
	Amount       decimal.Decimal
	RemittanceID *int64
	Notes        string
}

// Allocate выдаёт курьеру наличные.
func (s *Service) Allocate(ctx context.Context, actor model.Actor, in MovementInput) (model.CashMovement, error) {
	return s.move(ctx, actor, "allocate", model.MovementAllocation, in)
}

// Withdraw изымает наличные у курьера.
func (s *Service) Withdraw(ctx context.Context, actor model.Actor, in MovementInput) (model.CashMovement, error) {
	return s.move(ctx, actor, "withdraw", model.MovementWithdrawal, in)
}

// RecordPickup фиксирует наличные, полученные курьером от отправителя.
func (s *Service) RecordPickup(ctx context.Context, actor model.Actor, in MovementInput) (model.CashMovement, error) {
	return s.move(ctx, actor, "pickup", model.MovementPickup, in)
}

func (s *Service) move(ctx context.Context, actor model.Actor, op string, kind model.MovementKind, in MovementInput) (model.CashMovement, error) {
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return model.CashMovement{}, s.fail(op, err)
	}
	if _, err := model.ParseCurrency(string(in.Currency)); err != nil {
		return model.CashMovement{}, s.fail(op, err)
	}

	var mv model.CashMovement
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		courier, err := tx.GetCourierForUpdate(ctx, in.CourierID)
		if err != nil {
			return err
		}

		mv, err = ledger.Apply(courier, model.CashMovement{
			Kind:         kind,
			Currency:     in.Currency,
			Amount:       in.Amount,
			RemittanceID: in.RemittanceID,
			Notes:        strings.TrimSpace(in.Notes),
			RecordedBy:   actor.ID,
			CreatedAt:    s.now(),
		})
		if err != nil {
			return err
		}

		if err := tx.UpdateCourier(ctx, courier); err != nil {
			return err
		}
		return tx.InsertCashMovement(ctx, &mv)
	})
	if err != nil {
		return model.CashMovement{}, s.fail(op, err)
	}

	s.metrics.IncMovement(string(kind), string(in.Currency))
	return mv, nil
}

// CurrencySale: пара связанных движений продажи валюты.
type CurrencySale struct {
	USD model.CashMovement `json:"usd"`
	CUP model.CashMovement `json:"cup"`
}

// SellCurrency конвертирует доллары курьера в песо по явно заданному курсу.
// Списание USD и зачисление CUP применяются вместе; запись CUP ссылается на запись USD.
func (s *Service) SellCurrency(ctx context.Context, actor model.Actor, courierID int64, usd, rate decimal.Decimal, notes string) (CurrencySale, error) {
	const op = "sell_currency"

	if err := requireRole(actor, op, model.RoleAdmin, model.RoleOperator, model.RoleCourier); err != nil {
		return CurrencySale{}, s.fail(op, err)
	}
	if actor.Role == model.RoleCourier && actor.ID != courierID {
		return CurrencySale{}, s.fail(op, model.NewForbiddenError(actor.Role, "sell currency for another courier"))
	}
	if err := model.RequireMoney("amount", usd); err != nil {
		return CurrencySale{}, s.fail(op, err)
	}
	if err := model.RequireRate("exchange_rate", rate); err != nil {
		return CurrencySale{}, s.fail(op, err)
	}

	var sale CurrencySale
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		courier, err := tx.GetCourierForUpdate(ctx, courierID)
		if err != nil {
			return err
		}

		now := s.now()
		memo := strings.TrimSpace(notes)

		usdLeg, err := ledger.Apply(courier, model.CashMovement{
			Kind:         model.MovementCurrencySale,
			Currency:     model.CurrencyUSD,
			Amount:       usd,
			ExchangeRate: &rate,
			Notes:        memo,
			RecordedBy:   actor.ID,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertCashMovement(ctx, &usdLeg); err != nil {
			return err
		}

		linked := usdLeg.ID
		cupLeg, err := ledger.Apply(courier, model.CashMovement{
			Kind:             model.MovementCurrencySale,
			Currency:         model.CurrencyCUP,
			Amount:           usd.Mul(rate).Round(model.MoneyPlaces),
			ExchangeRate:     &rate,
			LinkedMovementID: &linked,
			Notes:            memo,
			RecordedBy:       actor.ID,
			CreatedAt:        now,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertCashMovement(ctx, &cupLeg); err != nil {
			return err
		}

		if err := tx.UpdateCourier(ctx, courier); err != nil {
			return err
		}

		sale = CurrencySale{USD: usdLeg, CUP: cupLeg}
		return nil
	})
	if err != nil {
		return CurrencySale{}, s.fail(op, err)
	}

	s.metrics.IncMovement(string(model.MovementCurrencySale), string(model.CurrencyUSD))
	s.metrics.IncMovement(string(model.MovementCurrencySale), string(model.CurrencyCUP))
	return sale, nil
}

// CreateCourier заводит курьера с нулевой кассой.
func (s *Service) CreateCourier(ctx context.Context, actor model.Actor, name string) (*model.Courier, error) {
	const op = "create_courier"
	if err := requireRole(actor, op, model.RoleAdmin); err != nil {
		return nil, s.fail(op, err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.fail(op, model.NewValidationError("name", "", "required"))
	}

	c := &model.Courier{Name: name, Active: true}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertCourier(ctx, c)
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	return c, nil
}

// SetCourierActive включает или отключает курьера. Неактивному курьеру нельзя назначать заказы.
func (s *Service) SetCourierActive(ctx context.Context, actor model.Actor, courierID int64, active bool) (*model.Courier, error) {
	const op = "set_courier_active"
	if err := requireRole(actor, op, model.RoleAdmin); err != nil {
		return nil, s.fail(op, err)
	}

	var res *model.Courier
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCourierForUpdate(ctx, courierID)
		if err != nil {
			return err
		}
		c.Active = active
		res = c
		return tx.UpdateCourier(ctx, c)
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	return res, nil
}

// GetCourier возвращает курьера с остатками. Курьер видит только себя.
func (s *Service) GetCourier(ctx context.Context, actor model.Actor, courierID int64) (*model.Courier, error) {
	if err := canSeeCourier(actor, courierID); err != nil {
		return nil, err
	}
	return s.store.GetCourier(ctx, courierID)
}

// ListCouriers возвращает всех курьеров.
func (s *Service) ListCouriers(ctx context.Context, actor model.Actor) ([]model.Courier, error) {
	if err := requireRole(actor, "list_couriers", staffRoles...); err != nil {
		return nil, err
	}
	return s.store.ListCouriers(ctx)
}

// ListCashMovements возвращает журнал кассы курьера в порядке записи.
func (s *Service) ListCashMovements(ctx context.Context, actor model.Actor, courierID int64) ([]model.CashMovement, error) {
	if err := canSeeCourier(actor, courierID); err != nil {
		return nil, err
	}
	return s.store.ListCashMovements(ctx, courierID)
}

func canSeeCourier(actor model.Actor, courierID int64) error {
	if actor.Role.IsStaff() || (actor.Role == model.RoleCourier && actor.ID == courierID) {
		return nil
	}
	return model.NewForbiddenError(actor.Role, "read courier ledger")
}

// Reconciliation: сверка кэшированных остатков курьера с журналом движений.
type Reconciliation struct {
	CourierID int64           `json:"courier_id"`
	Cached    ledger.Balances `json:"cached"`
	Ledger    ledger.Balances `json:"ledger"`
	Drift     []ledger.Drift  `json:"drift"`
	Movements int             `json:"movements"`
}

// ReconcileCourier сворачивает журнал курьера и сравнивает результат с остатками.
// Курьер блокируется на время сверки, поэтому журнал и остатки согласованы.
func (s *Service) ReconcileCourier(ctx context.Context, actor model.Actor, courierID int64) (Reconciliation, error) {
	const op = "reconcile"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return Reconciliation{}, s.fail(op, err)
	}

	var rec Reconciliation
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCourierForUpdate(ctx, courierID)
		if err != nil {
			return err
		}
		movements, err := tx.ListCashMovements(ctx, courierID)
		if err != nil {
			return err
		}
		folded, drift, err := ledger.Reconcile(*c, movements)
		if err != nil {
			return err
		}
		rec = Reconciliation{
			CourierID: courierID,
			Cached:    ledger.Balances{USD: c.BalanceUSD, CUP: c.BalanceCUP},
			Ledger:    folded,
			Drift:     drift,
			Movements: len(movements),
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, s.fail(op, err)
	}

	if len(rec.Drift) > 0 {
		s.logger.Sugar().Warnw("courier balance drift", "courier_id", courierID, "drift", rec.Drift)
	}
	return rec, nil
}
