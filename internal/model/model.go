// Package model содержит доменные сущности сервиса денежных переводов.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency описывает валюту, в которой курьер держит наличные.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyCUP Currency = "CUP"
)

// ParseCurrency разбирает код валюты кассы курьера.
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case CurrencyUSD, CurrencyCUP:
		return c, nil
	default:
		return "", NewValidationError("currency", s, "unsupported currency")
	}
}

// DeliveryType определяет, в какой валюте бенефициар получает деньги.
type DeliveryType string

const (
	// DeliveryLocal: выдача в местной валюте (CUP) по курсу.
	DeliveryLocal DeliveryType = "local"
	// DeliveryHard: выдача в твёрдой валюте (USD) без конвертации.
	DeliveryHard DeliveryType = "hard"
)

// ParseDeliveryType разбирает тип выдачи.
func ParseDeliveryType(s string) (DeliveryType, error) {
	switch t := DeliveryType(strings.ToLower(strings.TrimSpace(s))); t {
	case DeliveryLocal, DeliveryHard:
		return t, nil
	default:
		return "", NewValidationError("delivery_type", s, "unsupported delivery type")
	}
}

// DeliveryCurrency возвращает валюту выдачи для типа доставки.
func (t DeliveryType) DeliveryCurrency() Currency {
	switch t {
	case DeliveryHard:
		return CurrencyUSD
	default:
		return CurrencyCUP
	}
}

// Role описывает роль сотрудника, от имени которого выполняется операция.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleCourier  Role = "courier"
	RoleReseller Role = "reseller"
)

// IsStaff сообщает, может ли роль выполнять операции персонала.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Actor: аутентифицированный инициатор операции, которого передаёт сервис идентификации.
type Actor struct {
	ID   int64
	Role Role
}

// Remittance описывает один заказ на денежный перевод.
type Remittance struct {
	ID           int64
	TrackingCode string

	SenderName         string
	SenderPhone        string
	BeneficiaryName    string
	BeneficiaryPhone   string
	BeneficiaryAddress string
	ProvinceID         *int64
	MunicipalityID     *int64

	DeliveryType         DeliveryType
	AmountSent           decimal.Decimal
	ExchangeRateApplied  decimal.Decimal
	DeliveryAmount       decimal.Decimal
	DeliveryCurrency     Currency
	CommissionPercentage decimal.Decimal
	CommissionFixed      decimal.Decimal
	TotalCommission      decimal.Decimal
	TotalCharged         decimal.Decimal
	PlatformCommission   *decimal.Decimal
	ResellerCommission   *decimal.Decimal

	State      State
	CourierID  *int64
	CreatedBy  *int64
	ResellerID *int64
	IsRequest  bool
	Invoiced   bool

	CreatedAt   time.Time
	ApprovedAt  *time.Time
	DeliveredAt *time.Time
	InvoicedAt  *time.Time
	CancelledAt *time.Time

	DeliveryProof string
	Notes         string
}

// Courier: атрибуты сотрудника-курьера, относящиеся к кассе.
type Courier struct {
	ID         int64
	Name       string
	Active     bool
	BalanceUSD decimal.Decimal
	BalanceCUP decimal.Decimal
}

// Balance возвращает текущий остаток курьера в указанной валюте.
func (c *Courier) Balance(cur Currency) decimal.Decimal {
	if cur == CurrencyUSD {
		return c.BalanceUSD
	}
	return c.BalanceCUP
}

// SetBalance обновляет кэшированный остаток. Вызывается только при применении движения.
func (c *Courier) SetBalance(cur Currency, v decimal.Decimal) {
	if cur == CurrencyUSD {
		c.BalanceUSD = v
		return
	}
	c.BalanceCUP = v
}

// MovementKind описывает вид движения наличных курьера.
type MovementKind string

const (
	MovementAllocation   MovementKind = "allocation"
	MovementWithdrawal   MovementKind = "withdrawal"
	MovementDelivery     MovementKind = "delivery"
	MovementPickup       MovementKind = "pickup"
	MovementCurrencySale MovementKind = "currency_sale"
)

// CashMovement: неизменяемая запись кассового журнала курьера.
type CashMovement struct {
	ID               int64
	CourierID        int64
	Kind             MovementKind
	Currency         Currency
	Amount           decimal.Decimal
	BalanceBefore    decimal.Decimal
	BalanceAfter     decimal.Decimal
	ExchangeRate     *decimal.Decimal
	RemittanceID     *int64
	LinkedMovementID *int64
	Notes            string
	RecordedBy       int64
	CreatedAt        time.Time
}

// Reseller: атрибуты сотрудника-реселлера, относящиеся к комиссиям.
type Reseller struct {
	ID             int64
	Name           string
	PendingBalance decimal.Decimal
	CommissionRate decimal.Decimal
	UsesLogistics  bool
}

// PaymentMethod описывает способ выплаты комиссии реселлеру.
type PaymentMethod string

const (
	PaymentCash           PaymentMethod = "cash"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMobileTransfer PaymentMethod = "mobile_transfer"
	PaymentOther          PaymentMethod = "other"
)

// ParsePaymentMethod разбирает способ выплаты.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentCash, PaymentBankTransfer, PaymentMobileTransfer, PaymentOther:
		return m, nil
	default:
		return "", NewValidationError("method", s, "unsupported payment method")
	}
}

// ResellerPayment: выплата, уменьшающая накопленную комиссию реселлера.
type ResellerPayment struct {
	ID            int64
	ResellerID    int64
	Amount        decimal.Decimal
	Method        PaymentMethod
	Reference     string
	Notes         string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	RecordedBy    int64
	CreatedAt     time.Time
}

// CommissionTier: диапазон сумм с процентной и фиксированной комиссией.
type CommissionTier struct {
	ID         int64
	Name       string
	RangeMin   decimal.Decimal
	RangeMax   *decimal.Decimal
	Percentage decimal.Decimal
	FixedFee   decimal.Decimal
	Active     bool
}

// Contains сообщает, попадает ли сумма в полуинтервал [RangeMin, RangeMax).
func (t CommissionTier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.RangeMin) {
		return false
	}
	return t.RangeMax == nil || amount.LessThan(*t.RangeMax)
}

// Pair: валютная пара "исходная-целевая", например USD-CUP.
type Pair struct {
	From string
	To   string
}

// ParsePair разбирает строку вида "USD-CUP".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return Pair{}, NewValidationError("currency_pair", s, "expected FROM-TO")
	}
	return Pair{From: parts[0], To: parts[1]}, nil
}

func (p Pair) String() string {
	return fmt.Sprintf("%s-%s", p.From, p.To)
}

// RateSource описывает происхождение курса.
type RateSource string

const (
	RateSourceManual    RateSource = "manual"
	RateSourcePrimary   RateSource = "primary"
	RateSourceSecondary RateSource = "secondary"
	RateSourceFallback  RateSource = "fallback"
)

// ExchangeRate: текущая запись курса для пары из конкретного источника.
type ExchangeRate struct {
	ID        int64
	Pair      Pair
	Rate      decimal.Decimal
	Active    bool
	Source    RateSource
	UpdatedBy *int64
	UpdatedAt time.Time
}

// ExchangeRateHistory: строка аудита изменения активного курса.
type ExchangeRateHistory struct {
	ID           int64
	RateID       int64
	Pair         Pair
	Source       RateSource
	PreviousRate decimal.Decimal
	NewRate      decimal.Decimal
	ChangedBy    *int64
	ChangedAt    time.Time
}

// AccountingKind: направление бухгалтерской записи.
type AccountingKind string

const (
	AccountingIncome  AccountingKind = "income"
	AccountingExpense AccountingKind = "expense"
)

// ParseAccountingKind разбирает направление бухгалтерской записи.
func ParseAccountingKind(s string) (AccountingKind, error) {
	switch k := AccountingKind(strings.ToLower(strings.TrimSpace(s))); k {
	case AccountingIncome, AccountingExpense:
		return k, nil
	default:
		return "", NewValidationError("kind", s, "expected income or expense")
	}
}

// AccountingMovement: запись бухгалтерского журнала.
type AccountingMovement struct {
	ID           int64
	Kind         AccountingKind
	Concept      string
	Amount       decimal.Decimal
	RemittanceID *int64
	RecordedBy   int64
	CreatedAt    time.Time
}

// AccountingSummary: итоги журнала за период.
type AccountingSummary struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
}
