// Package rates разрешает курс для новых заказов и обновляет курсы из внешних источников.
//
// Порядок разрешения: активный ручной курс, затем последний курс основного поставщика,
// затем резервного, затем производный курс (базовый курс USD-CUP × множитель) для пар,
// у которых задан множитель. Если ничего не найдено, возвращается ошибка rate_unavailable.
package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/remittance-ledger/internal/metrics"
	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// BasePair: пара, от которой считаются производные курсы.
var BasePair = model.Pair{From: "USD", To: "CUP"}

const ratePlaces = model.RatePlaces

// sourcePriority задаёт порядок, в котором сохранённые источники выигрывают разрешение.
var sourcePriority = []model.RateSource{
	model.RateSourceManual,
	model.RateSourcePrimary,
	model.RateSourceSecondary,
}

// Resolved: курс, выбранный для пары, и источник, из которого он взят.
type Resolved struct {
	Pair      model.Pair       `json:"-"`
	Rate      decimal.Decimal  `json:"rate"`
	Source    model.RateSource `json:"source"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RateReader: чтение сохранённых курсов пары.
type RateReader interface {
	ListExchangeRates(ctx context.Context, pair model.Pair) ([]model.ExchangeRate, error)
}

// Resolver выбирает курс для пары. Разрешение только читает состояние.
type Resolver struct {
	store       RateReader
	cache       Cache
	multipliers map[model.Pair]decimal.Decimal
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// ResolverOption настраивает Resolver.
type ResolverOption func(*Resolver)

// WithCache подключает кэш разрешённых курсов.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithMetrics подключает счётчики разрешений.
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger подключает логгер.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver создаёт резолвер. multipliers задают производные курсы от BasePair,
// например {EUR-CUP: 1.1, MLC-CUP: 0.8}.
func NewResolver(store RateReader, multipliers map[model.Pair]decimal.Decimal, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:       store,
		multipliers: multipliers,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve возвращает курс для пары.
func (r *Resolver) Resolve(ctx context.Context, pair model.Pair) (Resolved, error) {
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, pair)
		if err != nil {
			r.logger.Warn("rate cache get failed", zap.String("pair", pair.String()), zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	res, err := r.resolve(ctx, pair)
	if err != nil {
		return Resolved{}, err
	}

	r.metrics.IncRateResolution(pair.String(), string(res.Source))

	if r.cache != nil {
		if err := r.cache.Set(ctx, pair, res); err != nil {
			r.logger.Warn("rate cache set failed", zap.String("pair", pair.String()), zap.Error(err))
		}
	}

	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, pair model.Pair) (Resolved, error) {
	res, ok, err := r.resolveStored(ctx, pair)
	if err != nil {
		return Resolved{}, err
	}
	if ok {
		return res, nil
	}

	mult, derived := r.multipliers[pair]
	if !derived || pair == BasePair {
		return Resolved{}, model.NewRateUnavailableError(pair)
	}

	base, ok, err := r.resolveStored(ctx, BasePair)
	if err != nil {
		return Resolved{}, err
	}
	if !ok {
		return Resolved{}, model.NewRateUnavailableError(pair)
	}

	return Resolved{
		Pair:      pair,
		Rate:      base.Rate.Mul(mult).Round(ratePlaces),
		Source:    model.RateSourceFallback,
		UpdatedAt: base.UpdatedAt,
	}, nil
}

func (r *Resolver) resolveStored(ctx context.Context, pair model.Pair) (Resolved, bool, error) {
	records, err := r.store.ListExchangeRates(ctx, pair)
	if err != nil {
		return Resolved{}, false, err
	}

	for _, source := range sourcePriority {
		for _, rec := range records {
			if rec.Source == source && rec.Active && rec.Rate.IsPositive() {
				return Resolved{Pair: pair, Rate: rec.Rate, Source: rec.Source, UpdatedAt: rec.UpdatedAt}, true, nil
			}
		}
	}
	return Resolved{}, false, nil
}

// Invalidate сбрасывает кэш для пар, чей результат зависит от изменённой пары.
func (r *Resolver) Invalidate(ctx context.Context, pair model.Pair) {
	if r.cache == nil {
		return
	}

	pairs := []model.Pair{pair}
	if pair == BasePair {
		for p := range r.multipliers {
			pairs = append(pairs, p)
		}
	}

	if err := r.cache.Delete(ctx, pairs...); err != nil {
		r.logger.Warn("rate cache invalidate failed", zap.String("pair", pair.String()), zap.Error(err))
	}
}

