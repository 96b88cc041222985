// Package service реализует бизнес-логику переводов: жизненный цикл заказа, кассу курьеров,
// комиссии реселлеров, бухгалтерский журнал и администрирование тарифов и курсов.
//
// Каждая изменяющая операция выполняется в одной транзакции хранилища: проверка,
// изменение балансов и запись журнала либо применяются целиком, либо не применяются вовсе.
// Уведомления отправляются только после фиксации.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/remittance-ledger/internal/metrics"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/notify"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
	"github.com/mmeshcher/remittance-ledger/internal/validation"
)

// RateResolver выбирает курс для новых заказов.
type RateResolver interface {
	Resolve(ctx context.Context, pair model.Pair) (rates.Resolved, error)
}

// RateUpdater записывает курсы по запросу администратора.
type RateUpdater interface {
	Refresh(ctx context.Context, pair model.Pair) error
	SetManual(ctx context.Context, actorID int64, pair model.Pair, rate decimal.Decimal) error
	ClearManual(ctx context.Context, actorID int64, pair model.Pair) error
}

// Notifier получает события о зафиксированных переходах заказов.
type Notifier interface {
	Notify(e notify.Event)
}

// Service инкапсулирует бизнес-логику поверх хранилища.
type Service struct {
	store    repository.Store
	resolver RateResolver
	updater  RateUpdater
	calc     *pricing.Calculator
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

// Option настраивает Service.
type Option func(*Service)

// WithRateUpdater подключает администрирование курсов.
func WithRateUpdater(u RateUpdater) Option {
	return func(s *Service) { s.updater = u }
}

// WithNotifier подключает рассылку уведомлений.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics подключает счётчики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger подключает логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator подменяет генератор кодов отслеживания.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// NewService создаёт новый сервис поверх хранилища, резолвера курсов и калькулятора.
func NewService(store repository.Store, resolver RateResolver, calc *pricing.Calculator, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		calc:     calc,
		logger:   zap.NewNop(),
		now:      time.Now,
		newCode:  validation.NewTrackingCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requireRole отклоняет операцию, если роль инициатора не входит в allowed.
func requireRole(actor model.Actor, op string, allowed ...model.Role) error {
	for _, r := range allowed {
		if actor.Role == r {
			return nil
		}
	}
	return model.NewForbiddenError(actor.Role, op)
}

var staffRoles = []model.Role{model.RoleAdmin, model.RoleOperator}

// fail учитывает отклонённую операцию в метриках и логе и возвращает err без изменений.
func (s *Service) fail(op string, err error) error {
	var domainErr *model.Error
	switch {
	case errors.As(err, &domainErr):
		s.metrics.IncRejection(op, string(domainErr.Kind))
		s.logger.Warn("operation rejected",
			zap.String("op", op),
			zap.String("kind", string(domainErr.Kind)),
			zap.String("field", domainErr.Field),
			zap.String("value", domainErr.Value),
		)
	case errors.Is(err, repository.ErrNotFound):
		s.metrics.IncRejection(op, "not_found")
		s.logger.Warn("operation rejected", zap.String("op", op), zap.Error(err))
	default:
		s.metrics.IncRejection(op, "internal")
		s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// stamp возвращает момент, не предшествующий ни одной из уже записанных отметок заказа.
func stamp(r *model.Remittance, now time.Time) time.Time {
	latest := r.CreatedAt
	for _, t := range []*time.Time{r.ApprovedAt, r.DeliveredAt, r.InvoicedAt, r.CancelledAt} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if now.Before(latest) {
		return latest
	}
	return now
}

func appendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
