package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// ErrNotFound: общий признак отсутствующей записи.
var ErrNotFound = errors.New("not found")

// Ошибки отсутствия конкретных сущностей; все они совпадают с ErrNotFound через errors.Is.
var (
	ErrRemittanceNotFound = fmt.Errorf("remittance %w", ErrNotFound)
	ErrCourierNotFound    = fmt.Errorf("courier %w", ErrNotFound)
	ErrResellerNotFound   = fmt.Errorf("reseller %w", ErrNotFound)
	ErrTierNotFound       = fmt.Errorf("commission tier %w", ErrNotFound)
	ErrRateNotFound       = fmt.Errorf("exchange rate %w", ErrNotFound)
)

// RemittanceFilter ограничивает выборку заказов.
type RemittanceFilter struct {
	State      *model.State
	CourierID  *int64
	ResellerID *int64
	Limit      int
}

// AccountingFilter ограничивает выборку бухгалтерского журнала.
type AccountingFilter struct {
	From         *time.Time
	To           *time.Time
	Kind         *model.AccountingKind
	RemittanceID *int64
}

// Reader: операции чтения вне транзакций изменения балансов.
type Reader interface {
	GetRemittance(ctx context.Context, id int64) (*model.Remittance, error)
	GetRemittanceByTrackingCode(ctx context.Context, code string) (*model.Remittance, error)
	ListRemittances(ctx context.Context, f RemittanceFilter) ([]model.Remittance, error)
	GetCourier(ctx context.Context, id int64) (*model.Courier, error)
	ListCouriers(ctx context.Context) ([]model.Courier, error)
	ListCashMovements(ctx context.Context, courierID int64) ([]model.CashMovement, error)
	GetReseller(ctx context.Context, id int64) (*model.Reseller, error)
	ListResellerPayments(ctx context.Context, resellerID int64) ([]model.ResellerPayment, error)
	ListAccountingMovements(ctx context.Context, f AccountingFilter) ([]model.AccountingMovement, error)
	SummarizeAccounting(ctx context.Context, f AccountingFilter) (model.AccountingSummary, error)
	ListTiers(ctx context.Context) ([]model.CommissionTier, error)
	ListExchangeRates(ctx context.Context, pair model.Pair) ([]model.ExchangeRate, error)
	ListRateHistory(ctx context.Context, pair model.Pair) ([]model.ExchangeRateHistory, error)
}

// Tx: операции внутри одной транзакции. Методы ...ForUpdate блокируют запись до конца
// транзакции, поэтому чтение баланса, проверка и запись выполняются атомарно.
type Tx interface {
	GetRemittanceForUpdate(ctx context.Context, id int64) (*model.Remittance, error)
	InsertRemittance(ctx context.Context, r *model.Remittance) error
	UpdateRemittance(ctx context.Context, r *model.Remittance) error

	GetCourierForUpdate(ctx context.Context, id int64) (*model.Courier, error)
	InsertCourier(ctx context.Context, c *model.Courier) error
	UpdateCourier(ctx context.Context, c *model.Courier) error
	InsertCashMovement(ctx context.Context, m *model.CashMovement) error
	ListCashMovements(ctx context.Context, courierID int64) ([]model.CashMovement, error)

	GetResellerForUpdate(ctx context.Context, id int64) (*model.Reseller, error)
	InsertReseller(ctx context.Context, r *model.Reseller) error
	UpdateReseller(ctx context.Context, r *model.Reseller) error
	InsertResellerPayment(ctx context.Context, p *model.ResellerPayment) error

	InsertAccountingMovement(ctx context.Context, m *model.AccountingMovement) error

	LockTiers(ctx context.Context) ([]model.CommissionTier, error)
	InsertTier(ctx context.Context, t *model.CommissionTier) error
	UpdateTier(ctx context.Context, t *model.CommissionTier) error

	GetExchangeRateForUpdate(ctx context.Context, pair model.Pair, source model.RateSource) (*model.ExchangeRate, error)
	InsertExchangeRate(ctx context.Context, r *model.ExchangeRate) error
	UpdateExchangeRate(ctx context.Context, r *model.ExchangeRate) error
	InsertRateHistory(ctx context.Context, h *model.ExchangeRateHistory) error
}

// Store объединяет чтение и транзакции хранилища сервиса.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
