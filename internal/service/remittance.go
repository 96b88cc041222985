package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/ledger"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/notify"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// maxCodeAttempts ограничивает число перегенераций кода отслеживания при коллизиях.
const maxCodeAttempts = 8

// QuoteInput: параметры предварительного расчёта.
type QuoteInput struct {
	Amount       decimal.Decimal
	DeliveryType model.DeliveryType
	ResellerID   *int64
}

// CreateInput: данные нового заказа.
type CreateInput struct {
	SenderName         string
	SenderPhone        string
	BeneficiaryName    string
	BeneficiaryPhone   string
	BeneficiaryAddress string
	ProvinceID         *int64
	MunicipalityID     *int64
	DeliveryType       model.DeliveryType
	Amount             decimal.Decimal
	// ResellerID учитывается только для персонала; заказ реселлера всегда привязан к нему самому.
	ResellerID *int64
	Notes      string
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.SenderName) == "" {
		return model.NewValidationError("sender_name", "", "required")
	}
	if strings.TrimSpace(in.BeneficiaryName) == "" {
		return model.NewValidationError("beneficiary_name", "", "required")
	}
	if _, err := model.ParseDeliveryType(string(in.DeliveryType)); err != nil {
		return err
	}
	return model.RequireMoney("amount", in.Amount)
}

// Quote рассчитывает стоимость заказа по текущим курсу и тарифам без сохранения.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (pricing.Result, error) {
	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return pricing.Result{}, fmt.Errorf("list tiers: %w", err)
	}

	calc := pricing.Input{
		Amount:       in.Amount,
		DeliveryType: in.DeliveryType,
		Tiers:        tiers,
	}

	if in.DeliveryType == model.DeliveryLocal {
		rate, err := s.resolver.Resolve(ctx, rates.BasePair)
		if err != nil {
			return pricing.Result{}, err
		}
		calc.Rate = rate.Rate
	}

	if in.ResellerID != nil {
		rs, err := s.store.GetReseller(ctx, *in.ResellerID)
		if err != nil {
			return pricing.Result{}, err
		}
		calc.ResellerRate = &rs.CommissionRate
	}

	return s.calc.Calculate(calc)
}

// CreateRemittance создаёт заказ от имени персонала или реселлера в состоянии pending.
func (s *Service) CreateRemittance(ctx context.Context, actor model.Actor, in CreateInput) (*model.Remittance, error) {
	const op = "create"

	if err := requireRole(actor, op, model.RoleAdmin, model.RoleOperator, model.RoleReseller); err != nil {
		return nil, s.fail(op, err)
	}
	if actor.Role == model.RoleReseller {
		id := actor.ID
		in.ResellerID = &id
	}

	r, err := s.create(ctx, &actor, in)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return r, nil
}

// SubmitRequest создаёт публичную заявку без инициатора в состоянии request.
func (s *Service) SubmitRequest(ctx context.Context, in CreateInput) (*model.Remittance, error) {
	const op = "submit_request"

	in.ResellerID = nil
	r, err := s.create(ctx, nil, in)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return r, nil
}

func (s *Service) create(ctx context.Context, actor *model.Actor, in CreateInput) (*model.Remittance, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Курс и тарифы читаются вне транзакции: расчёт фиксируется в заказе и далее не пересчитывается.
	price, err := s.Quote(ctx, QuoteInput{Amount: in.Amount, DeliveryType: in.DeliveryType, ResellerID: in.ResellerID})
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &model.Remittance{
		SenderName:           strings.TrimSpace(in.SenderName),
		SenderPhone:          strings.TrimSpace(in.SenderPhone),
		BeneficiaryName:      strings.TrimSpace(in.BeneficiaryName),
		BeneficiaryPhone:     strings.TrimSpace(in.BeneficiaryPhone),
		BeneficiaryAddress:   strings.TrimSpace(in.BeneficiaryAddress),
		ProvinceID:           in.ProvinceID,
		MunicipalityID:       in.MunicipalityID,
		DeliveryType:         in.DeliveryType,
		AmountSent:           in.Amount,
		ExchangeRateApplied:  price.ExchangeRate,
		DeliveryAmount:       price.DeliveryAmount,
		DeliveryCurrency:     price.DeliveryCurrency,
		CommissionPercentage: price.CommissionPercentage,
		CommissionFixed:      price.CommissionFixed,
		TotalCommission:      price.TotalCommission,
		TotalCharged:         price.TotalCharged,
		PlatformCommission:   price.PlatformCommission,
		ResellerCommission:   price.ResellerCommission,
		ResellerID:           in.ResellerID,
		CreatedAt:            now,
		Notes:                strings.TrimSpace(in.Notes),
	}

	if actor == nil {
		r.State = model.StateRequest
		r.IsRequest = true
	} else {
		id := actor.ID
		r.CreatedBy = &id
		r.State = model.StatePending
		r.ApprovedAt = &now
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		r.TrackingCode = code

		err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
			return tx.InsertRemittance(ctx, r)
		})
		if errors.Is(err, model.ErrDuplicateTrackingCode) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.committed(r, "", now)
		return r, nil
	}

	return nil, fmt.Errorf("allocate tracking code: %d collisions in a row", maxCodeAttempts)
}

// step описывает один переход заказа.
type step struct {
	op string
	// from, если задано, сужает таблицу переходов: в pending ведут и одобрение, и снятие курьера.
	from model.State
	to   model.State
	// idempotent: повтор перехода в уже достигнутое состояние считается успехом без изменений.
	idempotent bool
	apply      func(tx repository.Tx, r *model.Remittance, at time.Time) error
}

// transition блокирует заказ, проверяет переход по таблице и применяет его вместе с
// побочными эффектами в одной транзакции.
func (s *Service) transition(ctx context.Context, id int64, st step) (*model.Remittance, error) {
	var (
		res  *model.Remittance
		from model.State
		noop bool
		at   time.Time
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		noop = false

		r, err := tx.GetRemittanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = r.State

		if st.idempotent && r.State == st.to {
			noop = true
			res = r
			return nil
		}

		if err := model.CheckTransition(r.State, st.to); err != nil {
			return err
		}
		if st.from != "" && r.State != st.from {
			return &model.Error{
				Kind:    model.KindInvalidStateTransition,
				Field:   "state",
				Value:   string(r.State),
				Message: st.op + " requires state " + string(st.from),
			}
		}

		at = stamp(r, s.now())
		if st.apply != nil {
			if err := st.apply(tx, r, at); err != nil {
				return err
			}
		}

		r.State = st.to
		if err := tx.UpdateRemittance(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, s.fail(st.op, err)
	}

	if !noop {
		s.committed(res, from, at)
	}
	return res, nil
}

// committed вызывается после фиксации перехода.
func (s *Service) committed(r *model.Remittance, from model.State, at time.Time) {
	s.metrics.IncTransition(string(from), string(r.State))
	if s.notifier != nil {
		s.notifier.Notify(notify.NewStateChanged(r, from, at))
	}
}

// Approve переводит публичную заявку в pending. Расчёт, сделанный при создании, сохраняется.
func (s *Service) Approve(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error) {
	const op = "approve"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return nil, s.fail(op, err)
	}

	return s.transition(ctx, id, step{
		op:   op,
		from: model.StateRequest,
		to:   model.StatePending,
		apply: func(_ repository.Tx, r *model.Remittance, at time.Time) error {
			if r.CreatedBy == nil {
				by := actor.ID
				r.CreatedBy = &by
			}
			r.ApprovedAt = &at
			return nil
		},
	})
}

// Assign назначает заказ активному курьеру. Наличные не перемещаются.
func (s *Service) Assign(ctx context.Context, actor model.Actor, id, courierID int64) (*model.Remittance, error) {
	const op = "assign"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return nil, s.fail(op, err)
	}

	return s.transition(ctx, id, step{
		op: op,
		to: model.StateInProgress,
		apply: func(tx repository.Tx, r *model.Remittance, _ time.Time) error {
			courier, err := tx.GetCourierForUpdate(ctx, courierID)
			if err != nil {
				return err
			}
			if !courier.Active {
				return model.NewCourierInactiveError(courierID)
			}
			r.CourierID = &courier.ID
			return nil
		},
	})
}

// Unassign возвращает заказ в pending и снимает курьера. Выданные курьеру наличные
// не возвращаются автоматически.
func (s *Service) Unassign(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error) {
	const op = "unassign"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return nil, s.fail(op, err)
	}

	return s.transition(ctx, id, step{
		op:   op,
		from: model.StateInProgress,
		to:   model.StatePending,
		apply: func(_ repository.Tx, r *model.Remittance, _ time.Time) error {
			r.CourierID = nil
			return nil
		},
	})
}

// DeliverInput: данные о выдаче.
type DeliverInput struct {
	ProofRef string
	Notes    string
}

// Deliver фиксирует выдачу: списывает сумму выдачи с кассы курьера, начисляет комиссию
// реселлеру и записывает доход в журнал. Все эффекты применяются атомарно.
func (s *Service) Deliver(ctx context.Context, actor model.Actor, id int64, in DeliverInput) (*model.Remittance, error) {
	const op = "deliver"
	if err := requireRole(actor, op, model.RoleAdmin, model.RoleOperator, model.RoleCourier); err != nil {
		return nil, s.fail(op, err)
	}

	var movement model.CashMovement

	res, err := s.transition(ctx, id, step{
		op: op,
		to: model.StateDelivered,
		apply: func(tx repository.Tx, r *model.Remittance, at time.Time) error {
			if r.CourierID == nil {
				return model.NewValidationError("courier_id", "", "order has no courier")
			}
			if actor.Role == model.RoleCourier && actor.ID != *r.CourierID {
				return model.NewForbiddenError(actor.Role, "deliver an order assigned to another courier")
			}

			courier, err := tx.GetCourierForUpdate(ctx, *r.CourierID)
			if err != nil {
				return err
			}

			remittanceID := r.ID
			mv, err := ledger.Apply(courier, model.CashMovement{
				Kind:         model.MovementDelivery,
				Currency:     r.DeliveryCurrency,
				Amount:       r.DeliveryAmount,
				RemittanceID: &remittanceID,
				Notes:        r.TrackingCode,
				RecordedBy:   actor.ID,
				CreatedAt:    at,
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateCourier(ctx, courier); err != nil {
				return err
			}
			if err := tx.InsertCashMovement(ctx, &mv); err != nil {
				return err
			}
			movement = mv

			if r.ResellerID != nil && r.ResellerCommission != nil && r.ResellerCommission.IsPositive() {
				rs, err := tx.GetResellerForUpdate(ctx, *r.ResellerID)
				if err != nil {
					return err
				}
				if err := ledger.Accrue(rs, *r.ResellerCommission); err != nil {
					return err
				}
				if err := tx.UpdateReseller(ctx, rs); err != nil {
					return err
				}
			}

			if err := tx.InsertAccountingMovement(ctx, &model.AccountingMovement{
				Kind:         model.AccountingIncome,
				Concept:      "remittance " + r.TrackingCode,
				Amount:       r.TotalCharged,
				RemittanceID: &remittanceID,
				RecordedBy:   actor.ID,
				CreatedAt:    at,
			}); err != nil {
				return err
			}

			r.DeliveredAt = &at
			r.DeliveryProof = strings.TrimSpace(in.ProofRef)
			r.Notes = appendNote(r.Notes, strings.TrimSpace(in.Notes))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncMovement(string(movement.Kind), string(movement.Currency))
	return res, nil
}

// Invoice помечает выданный заказ как выставленный. Повторный вызов для уже
// выставленного заказа успешен и ничего не меняет.
func (s *Service) Invoice(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error) {
	const op = "invoice"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return nil, s.fail(op, err)
	}

	return s.transition(ctx, id, step{
		op:         op,
		to:         model.StateInvoiced,
		idempotent: true,
		apply: func(_ repository.Tx, r *model.Remittance, at time.Time) error {
			r.Invoiced = true
			r.InvoicedAt = &at
			return nil
		},
	})
}

// Cancel отменяет незавершённый заказ. Выданные курьеру наличные не возвращаются автоматически.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id int64, reason string) (*model.Remittance, error) {
	const op = "cancel"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return nil, s.fail(op, err)
	}

	return s.transition(ctx, id, step{
		op: op,
		to: model.StateCancelled,
		apply: func(_ repository.Tx, r *model.Remittance, at time.Time) error {
			r.CancelledAt = &at
			r.Notes = appendNote(r.Notes, strings.TrimSpace(reason))
			return nil
		},
	})
}

// GetRemittance возвращает заказ. Курьер видит только назначенные ему заказы,
// реселлер только свои.
func (s *Service) GetRemittance(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error) {
	r, err := s.store.GetRemittance(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(actor, r) {
		return nil, repository.ErrRemittanceNotFound
	}
	return r, nil
}

func canSee(actor model.Actor, r *model.Remittance) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleOperator:
		return true
	case model.RoleCourier:
		return r.CourierID != nil && *r.CourierID == actor.ID
	case model.RoleReseller:
		return r.ResellerID != nil && *r.ResellerID == actor.ID
	default:
		return false
	}
}

// TrackRemittance возвращает заказ по публичному коду отслеживания.
func (s *Service) TrackRemittance(ctx context.Context, code string) (*model.Remittance, error) {
	return s.store.GetRemittanceByTrackingCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// ListRemittances возвращает заказы по фильтру. Курьеру и реселлеру фильтр
// принудительно сужается до их собственных заказов.
func (s *Service) ListRemittances(ctx context.Context, actor model.Actor, f repository.RemittanceFilter) ([]model.Remittance, error) {
	switch actor.Role {
	case model.RoleAdmin, model.RoleOperator:
	case model.RoleCourier:
		id := actor.ID
		f.CourierID = &id
	case model.RoleReseller:
		id := actor.ID
		f.ResellerID = &id
	default:
		return nil, model.NewForbiddenError(actor.Role, "list remittances")
	}
	return s.store.ListRemittances(ctx, f)
}
