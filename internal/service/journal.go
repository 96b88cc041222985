package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// AccountingInput: запись бухгалтерского журнала, вносимая вручную.
type AccountingInput struct {
	Kind         model.AccountingKind
	Concept      string
	Amount       decimal.Decimal
	RemittanceID *int64
}

// RecordAccounting добавляет запись в бухгалтерский журнал.
func (s *Service) RecordAccounting(ctx context.Context, actor model.Actor, in AccountingInput) (model.AccountingMovement, error) {
	const op = "accounting"
	if err := requireRole(actor, op, staffRoles...); err != nil {
		return model.AccountingMovement{}, s.fail(op, err)
	}
	kind, err := model.ParseAccountingKind(string(in.Kind))
	if err != nil {
		return model.AccountingMovement{}, s.fail(op, err)
	}
	concept := strings.TrimSpace(in.Concept)
	if concept == "" {
		return model.AccountingMovement{}, s.fail(op, model.NewValidationError("concept", "", "required"))
	}
	if err := model.RequireMoney("amount", in.Amount); err != nil {
		return model.AccountingMovement{}, s.fail(op, err)
	}
	if in.RemittanceID != nil {
		if _, err := s.store.GetRemittance(ctx, *in.RemittanceID); err != nil {
			return model.AccountingMovement{}, s.fail(op, err)
		}
	}

	m := model.AccountingMovement{
		Kind:         kind,
		Concept:      concept,
		Amount:       in.Amount,
		RemittanceID: in.RemittanceID,
		RecordedBy:   actor.ID,
		CreatedAt:    s.now(),
	}
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertAccountingMovement(ctx, &m)
	})
	if err != nil {
		return model.AccountingMovement{}, s.fail(op, err)
	}
	return m, nil
}

// ListAccounting возвращает записи журнала по фильтру.
func (s *Service) ListAccounting(ctx context.Context, actor model.Actor, f repository.AccountingFilter) ([]model.AccountingMovement, error) {
	if err := requireRole(actor, "list_accounting", staffRoles...); err != nil {
		return nil, err
	}
	return s.store.ListAccountingMovements(ctx, f)
}

// AccountingSummary возвращает доходы, расходы и сальдо за период.
func (s *Service) AccountingSummary(ctx context.Context, actor model.Actor, f repository.AccountingFilter) (model.AccountingSummary, error) {
	if err := requireRole(actor, "accounting_summary", staffRoles...); err != nil {
		return model.AccountingSummary{}, err
	}
	return s.store.SummarizeAccounting(ctx, f)
}
