package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/service"
)

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

type remittanceResponse struct {
	ID                   int64            `json:"id"`
	TrackingCode         string           `json:"tracking_code"`
	SenderName           string           `json:"sender_name"`
	SenderPhone          string           `json:"sender_phone,omitempty"`
	BeneficiaryName      string           `json:"beneficiary_name"`
	BeneficiaryPhone     string           `json:"beneficiary_phone,omitempty"`
	BeneficiaryAddress   string           `json:"beneficiary_address,omitempty"`
	ProvinceID           *int64           `json:"province_id,omitempty"`
	MunicipalityID       *int64           `json:"municipality_id,omitempty"`
	DeliveryType         string           `json:"delivery_type"`
	AmountSent           decimal.Decimal  `json:"amount_sent"`
	ExchangeRateApplied  decimal.Decimal  `json:"exchange_rate_applied"`
	DeliveryAmount       decimal.Decimal  `json:"delivery_amount"`
	DeliveryCurrency     string           `json:"delivery_currency"`
	CommissionPercentage decimal.Decimal  `json:"commission_percentage"`
	CommissionFixed      decimal.Decimal  `json:"commission_fixed"`
	TotalCommission      decimal.Decimal  `json:"total_commission"`
	TotalCharged         decimal.Decimal  `json:"total_charged"`
	PlatformCommission   *decimal.Decimal `json:"platform_commission,omitempty"`
	ResellerCommission   *decimal.Decimal `json:"reseller_commission,omitempty"`
	State                string           `json:"state"`
	CourierID            *int64           `json:"courier_id,omitempty"`
	CreatedBy            *int64           `json:"created_by,omitempty"`
	ResellerID           *int64           `json:"reseller_id,omitempty"`
	IsRequest            bool             `json:"is_request"`
	Invoiced             bool             `json:"invoiced"`
	CreatedAt            string           `json:"created_at"`
	ApprovedAt           *string          `json:"approved_at,omitempty"`
	DeliveredAt          *string          `json:"delivered_at,omitempty"`
	InvoicedAt           *string          `json:"invoiced_at,omitempty"`
	CancelledAt          *string          `json:"cancelled_at,omitempty"`
	DeliveryProof        string           `json:"delivery_proof,omitempty"`
	Notes                string           `json:"notes,omitempty"`
}

func newRemittanceResponse(r *model.Remittance) remittanceResponse {
	return remittanceResponse{
		ID:                   r.ID,
		TrackingCode:         r.TrackingCode,
		SenderName:           r.SenderName,
		SenderPhone:          r.SenderPhone,
		BeneficiaryName:      r.BeneficiaryName,
		BeneficiaryPhone:     r.BeneficiaryPhone,
		BeneficiaryAddress:   r.BeneficiaryAddress,
		ProvinceID:           r.ProvinceID,
		MunicipalityID:       r.MunicipalityID,
		DeliveryType:         string(r.DeliveryType),
		AmountSent:           r.AmountSent,
		ExchangeRateApplied:  r.ExchangeRateApplied,
		DeliveryAmount:       r.DeliveryAmount,
		DeliveryCurrency:     string(r.DeliveryCurrency),
		CommissionPercentage: r.CommissionPercentage,
		CommissionFixed:      r.CommissionFixed,
		TotalCommission:      r.TotalCommission,
		TotalCharged:         r.TotalCharged,
		PlatformCommission:   r.PlatformCommission,
		ResellerCommission:   r.ResellerCommission,
		State:                string(r.State),
		CourierID:            r.CourierID,
		CreatedBy:            r.CreatedBy,
		ResellerID:           r.ResellerID,
		IsRequest:            r.IsRequest,
		Invoiced:             r.Invoiced,
		CreatedAt:            r.CreatedAt.Format(time.RFC3339),
		ApprovedAt:           formatTime(r.ApprovedAt),
		DeliveredAt:          formatTime(r.DeliveredAt),
		InvoicedAt:           formatTime(r.InvoicedAt),
		CancelledAt:          formatTime(r.CancelledAt),
		DeliveryProof:        r.DeliveryProof,
		Notes:                r.Notes,
	}
}

// trackingResponse: публичное представление заказа без персональных данных.
type trackingResponse struct {
	TrackingCode     string          `json:"tracking_code"`
	State            string          `json:"state"`
	DeliveryAmount   decimal.Decimal `json:"delivery_amount"`
	DeliveryCurrency string          `json:"delivery_currency"`
	CreatedAt        string          `json:"created_at"`
	DeliveredAt      *string         `json:"delivered_at,omitempty"`
}

func newTrackingResponse(r *model.Remittance) trackingResponse {
	return trackingResponse{
		TrackingCode:     r.TrackingCode,
		State:            string(r.State),
		DeliveryAmount:   r.DeliveryAmount,
		DeliveryCurrency: string(r.DeliveryCurrency),
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		DeliveredAt:      formatTime(r.DeliveredAt),
	}
}

type quoteResponse struct {
	ExchangeRate         decimal.Decimal  `json:"exchange_rate"`
	DeliveryAmount       decimal.Decimal  `json:"delivery_amount"`
	DeliveryCurrency     string           `json:"delivery_currency"`
	CommissionPercentage decimal.Decimal  `json:"commission_percentage"`
	CommissionFixed      decimal.Decimal  `json:"commission_fixed"`
	TotalCommission      decimal.Decimal  `json:"total_commission"`
	TotalCharged         decimal.Decimal  `json:"total_charged"`
	PlatformCommission   *decimal.Decimal `json:"platform_commission,omitempty"`
	ResellerCommission   *decimal.Decimal `json:"reseller_commission,omitempty"`
}

func newQuoteResponse(q pricing.Result) quoteResponse {
	return quoteResponse{
		ExchangeRate:         q.ExchangeRate,
		DeliveryAmount:       q.DeliveryAmount,
		DeliveryCurrency:     string(q.DeliveryCurrency),
		CommissionPercentage: q.CommissionPercentage,
		CommissionFixed:      q.CommissionFixed,
		TotalCommission:      q.TotalCommission,
		TotalCharged:         q.TotalCharged,
		PlatformCommission:   q.PlatformCommission,
		ResellerCommission:   q.ResellerCommission,
	}
}

type courierResponse struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	BalanceUSD decimal.Decimal `json:"balance_usd"`
	BalanceCUP decimal.Decimal `json:"balance_cup"`
}

func newCourierResponse(c *model.Courier) courierResponse {
	return courierResponse{
		ID:         c.ID,
		Name:       c.Name,
		Active:     c.Active,
		BalanceUSD: c.BalanceUSD,
		BalanceCUP: c.BalanceCUP,
	}
}

type movementResponse struct {
	ID               int64            `json:"id"`
	CourierID        int64            `json:"courier_id"`
	Kind             string           `json:"kind"`
	Currency         string           `json:"currency"`
	Amount           decimal.Decimal  `json:"amount"`
	BalanceBefore    decimal.Decimal  `json:"balance_before"`
	BalanceAfter     decimal.Decimal  `json:"balance_after"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`
	RemittanceID     *int64           `json:"remittance_id,omitempty"`
	LinkedMovementID *int64           `json:"linked_movement_id,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	RecordedBy       int64            `json:"recorded_by"`
	CreatedAt        string           `json:"created_at"`
}

func newMovementResponse(m model.CashMovement) movementResponse {
	return movementResponse{
		ID:               m.ID,
		CourierID:        m.CourierID,
		Kind:             string(m.Kind),
		Currency:         string(m.Currency),
		Amount:           m.Amount,
		BalanceBefore:    m.BalanceBefore,
		BalanceAfter:     m.BalanceAfter,
		ExchangeRate:     m.ExchangeRate,
		RemittanceID:     m.RemittanceID,
		LinkedMovementID: m.LinkedMovementID,
		Notes:            m.Notes,
		RecordedBy:       m.RecordedBy,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
}

type saleResponse struct {
	USD movementResponse `json:"usd"`
	CUP movementResponse `json:"cup"`
}

func newSaleResponse(s service.CurrencySale) saleResponse {
	return saleResponse{USD: newMovementResponse(s.USD), CUP: newMovementResponse(s.CUP)}
}

type resellerResponse struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	UsesLogistics  bool            `json:"uses_logistics"`
}

func newResellerResponse(r *model.Reseller) resellerResponse {
	return resellerResponse{
		ID:             r.ID,
		Name:           r.Name,
		PendingBalance: r.PendingBalance,
		CommissionRate: r.CommissionRate,
		UsesLogistics:  r.UsesLogistics,
	}
}

type paymentResponse struct {
	ID            int64           `json:"id"`
	ResellerID    int64           `json:"reseller_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	RecordedBy    int64           `json:"recorded_by"`
	CreatedAt     string          `json:"created_at"`
}

func newPaymentResponse(p model.ResellerPayment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		ResellerID:    p.ResellerID,
		Amount:        p.Amount,
		Method:        string(p.Method),
		Reference:     p.Reference,
		Notes:         p.Notes,
		BalanceBefore: p.BalanceBefore,
		BalanceAfter:  p.BalanceAfter,
		RecordedBy:    p.RecordedBy,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

type accountingResponse struct {
	ID           int64           `json:"id"`
	Kind         string          `json:"kind"`
	Concept      string          `json:"concept"`
	Amount       decimal.Decimal `json:"amount"`
	RemittanceID *int64          `json:"remittance_id,omitempty"`
	RecordedBy   int64           `json:"recorded_by"`
	CreatedAt    string          `json:"created_at"`
}

func newAccountingResponse(m model.AccountingMovement) accountingResponse {
	return accountingResponse{
		ID:           m.ID,
		Kind:         string(m.Kind),
		Concept:      m.Concept,
		Amount:       m.Amount,
		RemittanceID: m.RemittanceID,
		RecordedBy:   m.RecordedBy,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

type tierResponse struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	RangeMin   decimal.Decimal  `json:"range_min"`
	RangeMax   *decimal.Decimal `json:"range_max,omitempty"`
	Percentage decimal.Decimal  `json:"percentage"`
	FixedFee   decimal.Decimal  `json:"fixed_fee"`
	Active     bool             `json:"active"`
}

func newTierResponse(t model.CommissionTier) tierResponse {
	return tierResponse{
		ID:         t.ID,
		Name:       t.Name,
		RangeMin:   t.RangeMin,
		RangeMax:   t.RangeMax,
		Percentage: t.Percentage,
		FixedFee:   t.FixedFee,
		Active:     t.Active,
	}
}

type rateResponse struct {
	Pair      string          `json:"currency_pair"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	Active    *bool           `json:"active,omitempty"`
	UpdatedBy *int64          `json:"updated_by,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

func newResolvedResponse(r rates.Resolved) rateResponse {
	return rateResponse{
		Pair:      r.Pair.String(),
		Rate:      r.Rate,
		Source:    string(r.Source),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func newRateResponse(r model.ExchangeRate) rateResponse {
	active := r.Active
	return rateResponse{
		Pair:      r.Pair.String(),
		Rate:      r.Rate,
		Source:    string(r.Source),
		Active:    &active,
		UpdatedBy: r.UpdatedBy,
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

type rateHistoryResponse struct {
	ID           int64           `json:"id"`
	Pair         string          `json:"currency_pair"`
	Source       string          `json:"source"`
	PreviousRate decimal.Decimal `json:"previous_rate"`
	NewRate      decimal.Decimal `json:"new_rate"`
	ChangedBy    *int64          `json:"changed_by,omitempty"`
	ChangedAt    string          `json:"changed_at"`
}

func newRateHistoryResponse(h model.ExchangeRateHistory) rateHistoryResponse {
	return rateHistoryResponse{
		ID:           h.ID,
		Pair:         h.Pair.String(),
		Source:       string(h.Source),
		PreviousRate: h.PreviousRate,
		NewRate:      h.NewRate,
		ChangedBy:    h.ChangedBy,
		ChangedAt:    h.ChangedAt.Format(time.RFC3339),
	}
}
