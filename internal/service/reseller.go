package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/ledger"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// PaymentInput: выплата комиссии реселлеру.
type PaymentInput struct {
	ResellerID int64
	Amount     decimal.Decimal
	Method     model.PaymentMethod
	Reference  string
	Notes      string
}

// RecordPayment уменьшает накопленную комиссию реселлера на сумму выплаты.
// Выплата больше накопленного отклоняется.
func (s *Service) RecordPayment(ctx context.Context, actor model.Actor, in PaymentInput) (model.ResellerPayment, error) {
	const op = "reseller_payment"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return model.ResellerPayment{}, s.fail(op, err)
	}
	method, err := model.ParsePaymentMethod(string(in.Method))
	if err != nil {
		return model.ResellerPayment{}, s.fail(op, err)
	}

	var payment model.ResellerPayment
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		rs, err := tx.GetResellerForUpdate(ctx, in.ResellerID)
		if err != nil {
			return err
		}

		payment, err = ledger.ApplyPayment(rs, model.ResellerPayment{
			Amount:     in.Amount,
			Method:     method,
			Reference:  strings.TrimSpace(in.Reference),
			Notes:      strings.TrimSpace(in.Notes),
			RecordedBy: actor.ID,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return err
		}

		if err := tx.UpdateReseller(ctx, rs); err != nil {
			return err
		}
		return tx.InsertResellerPayment(ctx, &payment)
	})
	if err != nil {
		return model.ResellerPayment{}, s.fail(op, err)
	}

	s.logger.Sugar().Infow("reseller payment recorded",
		"reseller_id", in.ResellerID,
		"amount", payment.Amount.String(),
		"balance_after", payment.BalanceAfter.String(),
	)
	return payment, nil
}

// ResellerInput: данные нового реселлера.
type ResellerInput struct {
	Name           string
	CommissionRate decimal.Decimal
	UsesLogistics  bool
}

var maxCommissionRate = decimal.NewFromInt(100)

// CreateReseller заводит реселлера с нулевой накопленной комиссией.
func (s *Service) CreateReseller(ctx context.Context, actor model.Actor, in ResellerInput) (*model.Reseller, error) {
	const op = "create_reseller"
	if err := requireRole(actor, op, model.RoleAdmin); err != nil {
		return nil, s.fail(op, err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, s.fail(op, model.NewValidationError("name", "", "required"))
	}
	if in.CommissionRate.IsNegative() || in.CommissionRate.GreaterThan(maxCommissionRate) {
		return nil, s.fail(op, model.NewValidationError("commission_rate", in.CommissionRate.String(), "must be between 0 and 100"))
	}
	if err := model.RequireScale("commission_rate", in.CommissionRate, model.PercentPlaces); err != nil {
		return nil, s.fail(op, err)
	}

	rs := &model.Reseller{Name: name, CommissionRate: in.CommissionRate, UsesLogistics: in.UsesLogistics}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertReseller(ctx, rs)
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rs, nil
}

// GetReseller возвращает реселлера. Реселлер видит только себя.
func (s *Service) GetReseller(ctx context.Context, actor model.Actor, resellerID int64) (*model.Reseller, error) {
	if err := canSeeReseller(actor, resellerID); err != nil {
		return nil, err
	}
	return s.store.GetReseller(ctx, resellerID)
}

// ListResellerPayments возвращает историю выплат реселлеру.
func (s *Service) ListResellerPayments(ctx context.Context, actor model.Actor, resellerID int64) ([]model.ResellerPayment, error) {
	if err := canSeeReseller(actor, resellerID); err != nil {
		return nil, err
	}
	return s.store.ListResellerPayments(ctx, resellerID)
}

func canSeeReseller(actor model.Actor, resellerID int64) error {
	if actor.Role.IsStaff() || (actor.Role == model.RoleReseller && actor.ID == resellerID) {
		return nil
	}
	return model.NewForbiddenError(actor.Role, "read reseller ledger")
}
