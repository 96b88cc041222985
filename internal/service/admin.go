package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// ErrRatesNotConfigured: администрирование курсов не подключено.
var ErrRatesNotConfigured = errors.New("rate administration not configured")

// ListTiers возвращает все диапазоны комиссий.
func (s *Service) ListTiers(ctx context.Context, actor model.Actor) ([]model.CommissionTier, error) {
	if err := requireRole(actor, "list_tiers", staffRoles...); err != nil {
		return nil, err
	}
	return s.store.ListTiers(ctx)
}

// SaveTier создаёт диапазон (ID == 0) или изменяет существующий. Активные диапазоны
// не должны пересекаться; проверка и запись выполняются под общей блокировкой тарифов.
func (s *Service) SaveTier(ctx context.Context, actor model.Actor, tier model.CommissionTier) (model.CommissionTier, error) {
	const op = "save_tier"
	if err := requireRole(actor, op, model.RoleAdmin); err != nil {
		return model.CommissionTier{}, s.fail(op, err)
	}

	tier.Name = strings.TrimSpace(tier.Name)
	if tier.Name == "" {
		return model.CommissionTier{}, s.fail(op, model.NewValidationError("name", "", "required"))
	}
	// Границы проверяются и у неактивного диапазона: его могут включить позже.
	single := tier
	single.Active = true
	if err := pricing.ValidateTiers([]model.CommissionTier{single}); err != nil {
		return model.CommissionTier{}, s.fail(op, err)
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockTiers(ctx)
		if err != nil {
			return err
		}

		candidate := make([]model.CommissionTier, 0, len(current)+1)
		found := false
		for _, t := range current {
			if tier.ID != 0 && t.ID == tier.ID {
				found = true
				continue
			}
			candidate = append(candidate, t)
		}
		if tier.ID != 0 && !found {
			return repository.ErrTierNotFound
		}
		candidate = append(candidate, tier)

		if err := pricing.ValidateTiers(candidate); err != nil {
			return err
		}

		if tier.ID == 0 {
			return tx.InsertTier(ctx, &tier)
		}
		return tx.UpdateTier(ctx, &tier)
	})
	if err != nil {
		return model.CommissionTier{}, s.fail(op, err)
	}
	return tier, nil
}

// ResolveRate возвращает курс, который получит новый заказ, и его источник.
func (s *Service) ResolveRate(ctx context.Context, pair model.Pair) (rates.Resolved, error) {
	return s.resolver.Resolve(ctx, pair)
}

// ListExchangeRates возвращает записи курса пары по всем источникам.
func (s *Service) ListExchangeRates(ctx context.Context, actor model.Actor, pair model.Pair) ([]model.ExchangeRate, error) {
	if err := requireRole(actor, "list_rates", staffRoles...); err != nil {
		return nil, err
	}
	return s.store.ListExchangeRates(ctx, pair)
}

// RateHistory возвращает аудит изменений курса пары.
func (s *Service) RateHistory(ctx context.Context, actor model.Actor, pair model.Pair) ([]model.ExchangeRateHistory, error) {
	if err := requireRole(actor, "rate_history", staffRoles...); err != nil {
		return nil, err
	}
	return s.store.ListRateHistory(ctx, pair)
}

// SetManualRate устанавливает ручной курс пары.
func (s *Service) SetManualRate(ctx context.Context, actor model.Actor, pair model.Pair, rate decimal.Decimal) error {
	const op = "set_rate"
	if err := s.rateAdmin(actor, op); err != nil {
		return s.fail(op, err)
	}
	if err := s.updater.SetManual(ctx, actor.ID, pair, rate); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// ClearManualRate снимает ручной курс пары.
func (s *Service) ClearManualRate(ctx context.Context, actor model.Actor, pair model.Pair) error {
	const op = "clear_rate"
	if err := s.rateAdmin(actor, op); err != nil {
		return s.fail(op, err)
	}
	if err := s.updater.ClearManual(ctx, actor.ID, pair); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// RefreshRate запрашивает курс пары у внешних поставщиков вне расписания.
func (s *Service) RefreshRate(ctx context.Context, actor model.Actor, pair model.Pair) error {
	const op = "refresh_rate"
	if err := s.rateAdmin(actor, op); err != nil {
		return s.fail(op, err)
	}
	if err := s.updater.Refresh(ctx, pair); err != nil {
		return s.fail(op, err)
	}
	return nil
}

func (s *Service) rateAdmin(actor model.Actor, op string) error {
	if err := requireRole(actor, op, model.RoleAdmin); err != nil {
		return err
	}
	if s.updater == nil {
		return ErrRatesNotConfigured
	}
	return nil
}
