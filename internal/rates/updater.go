package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/remittance-ledger/internal/metrics"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
)

// Provider: внешний поставщик котировок.
type Provider interface {
	Source() model.RateSource
	Fetch(ctx context.Context, pair model.Pair) (decimal.Decimal, error)
}

// Updater записывает новые курсы: из внешних поставщиков и ручные.
// Каждое изменение курса активной записи сопровождается строкой истории в той же транзакции.
type Updater struct {
	store     repository.Store
	resolver  *Resolver
	providers []Provider
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewUpdater создаёт Updater. resolver может быть nil, тогда кэш не сбрасывается.
func NewUpdater(store repository.Store, resolver *Resolver, providers []Provider, m *metrics.Metrics, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		store:     store,
		resolver:  resolver,
		providers: providers,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// ErrRefreshFailed: ни один поставщик не вернул курс.
var ErrRefreshFailed = errors.New("rate refresh failed")

// Refresh опрашивает всех поставщиков для пары. Одновременные вызовы для одной пары
// объединяются в один. Сетевые запросы выполняются вне транзакций. Ошибка возвращается,
// только если не ответил ни один поставщик; прежние курсы при этом сохраняются.
func (u *Updater) Refresh(ctx context.Context, pair model.Pair) error {
	_, err, _ := u.group.Do(pair.String(), func() (any, error) {
		return nil, u.refresh(ctx, pair)
	})
	return err
}

func (u *Updater) refresh(ctx context.Context, pair model.Pair) error {
	if len(u.providers) == 0 {
		return fmt.Errorf("refresh %s: %w: no rate providers configured", pair, ErrRefreshFailed)
	}

	var errs []error
	for _, p := range u.providers {
		source := string(p.Source())

		rate, err := p.Fetch(ctx, pair)
		if err != nil {
			u.metrics.IncRateRefresh(source, "failed")
			u.logger.Warn("rate fetch failed",
				zap.String("pair", pair.String()),
				zap.String("source", source),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}

		changed, err := u.save(ctx, pair, p.Source(), rate, nil)
		if err != nil {
			u.metrics.IncRateRefresh(source, "failed")
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}

		result := "unchanged"
		if changed {
			result = "updated"
		}
		u.metrics.IncRateRefresh(source, result)
	}

	if len(errs) == len(u.providers) {
		return fmt.Errorf("refresh %s: %w: %w", pair, ErrRefreshFailed, errors.Join(errs...))
	}
	return nil
}

// RefreshAll обновляет все пары и возвращает ошибки по тем, что не обновились.
func (u *Updater) RefreshAll(ctx context.Context, pairs []model.Pair) error {
	var errs []error
	for _, pair := range pairs {
		if err := u.Refresh(ctx, pair); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run обновляет пары сразу и затем с заданным интервалом до отмены ctx.
func (u *Updater) Run(ctx context.Context, pairs []model.Pair, interval time.Duration) error {
	if len(u.providers) == 0 || len(pairs) == 0 || interval <= 0 {
		return nil
	}

	u.refreshLogged(ctx, pairs)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.refreshLogged(ctx, pairs)
		}
	}
}

func (u *Updater) refreshLogged(ctx context.Context, pairs []model.Pair) {
	if err := u.RefreshAll(ctx, pairs); err != nil && ctx.Err() == nil {
		u.logger.Error("scheduled rate refresh failed", zap.Error(err))
	}
}

// SetManual устанавливает ручной курс, который имеет приоритет над поставщиками.
func (u *Updater) SetManual(ctx context.Context, actorID int64, pair model.Pair, rate decimal.Decimal) error {
	if err := model.RequireRate("rate", rate); err != nil {
		return err
	}
	_, err := u.save(ctx, pair, model.RateSourceManual, rate, &actorID)
	return err
}

// ClearManual снимает ручной курс; разрешение возвращается к поставщикам.
func (u *Updater) ClearManual(ctx context.Context, actorID int64, pair model.Pair) error {
	err := u.store.WithinTx(ctx, func(tx repository.Tx) error {
		rec, err := tx.GetExchangeRateForUpdate(ctx, pair, model.RateSourceManual)
		if err != nil {
			return err
		}
		if !rec.Active {
			return nil
		}
		rec.Active = false
		rec.UpdatedBy = &actorID
		rec.UpdatedAt = u.now()
		return tx.UpdateExchangeRate(ctx, rec)
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx, pair)
	return nil
}

// save записывает курс источника и сообщает, изменилось ли значение.
// Курс округляется до точности хранения до сравнения с сохранённым.
func (u *Updater) save(ctx context.Context, pair model.Pair, source model.RateSource, rate decimal.Decimal, actorID *int64) (bool, error) {
	rate = rate.Round(ratePlaces)
	if err := model.RequirePositive("rate", rate); err != nil {
		return false, err
	}

	var changed bool
	err := u.store.WithinTx(ctx, func(tx repository.Tx) error {
		changed = false
		now := u.now()

		rec, err := tx.GetExchangeRateForUpdate(ctx, pair, source)
		if errors.Is(err, repository.ErrRateNotFound) {
			changed = true
			return tx.InsertExchangeRate(ctx, &model.ExchangeRate{
				Pair:      pair,
				Rate:      rate,
				Active:    true,
				Source:    source,
				UpdatedBy: actorID,
				UpdatedAt: now,
			})
		}
		if err != nil {
			return err
		}

		if rec.Active && rec.Rate.Equal(rate) {
			return nil
		}

		if rec.Active {
			if err := tx.InsertRateHistory(ctx, &model.ExchangeRateHistory{
				RateID:       rec.ID,
				Pair:         pair,
				Source:       source,
				PreviousRate: rec.Rate,
				NewRate:      rate,
				ChangedBy:    actorID,
				ChangedAt:    now,
			}); err != nil {
				return err
			}
		}

		changed = true
		rec.Rate = rate
		rec.Active = true
		rec.UpdatedBy = actorID
		rec.UpdatedAt = now
		return tx.UpdateExchangeRate(ctx, rec)
	})
	if err != nil {
		return false, err
	}

	if changed {
		u.invalidate(ctx, pair)
		u.logger.Info("exchange rate updated",
			zap.String("pair", pair.String()),
			zap.String("source", string(source)),
			zap.String("rate", rate.String()),
		)
	}
	return changed, nil
}

func (u *Updater) invalidate(ctx context.Context, pair model.Pair) {
	if u.resolver != nil {
		u.resolver.Invalidate(ctx, pair)
	}
}
