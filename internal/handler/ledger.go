package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
	"github.com/mmeshcher/remittance-ledger/internal/service"
)

type courierRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateCourier заводит курьера.
func (h *Handler) CreateCourier(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req courierRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.CreateCourier(r.Context(), a, req.Name)
	if err != nil {
		h.writeError(w, "create courier", err)
		return
	}

	writeJSON(w, http.StatusCreated, newCourierResponse(c))
}

type courierStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetCourierActive включает или отключает курьера.
func (h *Handler) SetCourierActive(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req courierStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.SetCourierActive(r.Context(), a, id, *req.Active)
	if err != nil {
		h.writeError(w, "set courier active", err)
		return
	}

	writeJSON(w, http.StatusOK, newCourierResponse(c))
}

// GetCourier возвращает курьера с остатками.
func (h *Handler) GetCourier(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.service.GetCourier(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "get courier", err)
		return
	}

	writeJSON(w, http.StatusOK, newCourierResponse(c))
}

// ListCouriers возвращает всех курьеров.
func (h *Handler) ListCouriers(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListCouriers(r.Context(), a)
	if err != nil {
		h.writeError(w, "list couriers", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]courierResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newCourierResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCashMovements возвращает журнал кассы курьера.
func (h *Handler) ListCashMovements(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	list, err := h.service.ListCashMovements(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "list cash movements", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]movementResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, newMovementResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

type movementRequest struct {
	Currency     string          `json:"currency" validate:"required,oneof=USD CUP"`
	Amount       decimal.Decimal `json:"amount"`
	RemittanceID *int64          `json:"remittance_id"`
	Notes        string          `json:"notes" validate:"max=1000"`
}

type moveFunc func(ctx context.Context, a model.Actor, in service.MovementInput) (model.CashMovement, error)

// movement оборачивает одиночное движение по кассе курьера.
func (h *Handler) movement(op string, fn moveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req movementRequest
		if !h.decode(w, r, &req) {
			return
		}

		mv, err := fn(r.Context(), a, service.MovementInput{
			CourierID:    id,
			Currency:     model.Currency(req.Currency),
			Amount:       req.Amount,
			RemittanceID: req.RemittanceID,
			Notes:        req.Notes,
		})
		if err != nil {
			h.writeError(w, op, err)
			return
		}

		writeJSON(w, http.StatusCreated, newMovementResponse(mv))
	}
}

// Allocate выдаёт курьеру наличные.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	h.movement("allocate", h.service.Allocate)(w, r)
}

// Withdraw изымает наличные у курьера.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement("withdraw", h.service.Withdraw)(w, r)
}

// RecordPickup фиксирует наличные, полученные от отправителя.
func (h *Handler) RecordPickup(w http.ResponseWriter, r *http.Request) {
	h.movement("pickup", h.service.RecordPickup)(w, r)
}

type saleRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Notes        string          `json:"notes" validate:"max=1000"`
}

// SellCurrency конвертирует доллары курьера в песо.
func (h *Handler) SellCurrency(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}

	sale, err := h.service.SellCurrency(r.Context(), a, id, req.Amount, req.ExchangeRate, req.Notes)
	if err != nil {
		h.writeError(w, "sell currency", err)
		return
	}

	writeJSON(w, http.StatusCreated, newSaleResponse(sale))
}

// ReconcileCourier сверяет остатки курьера с журналом.
func (h *Handler) ReconcileCourier(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.service.ReconcileCourier(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "reconcile courier", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type resellerRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	UsesLogistics  bool            `json:"uses_logistics"`
}

// CreateReseller заводит реселлера.
func (h *Handler) CreateReseller(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req resellerRequest
	if !h.decode(w, r, &req) {
		return
	}

	rs, err := h.service.CreateReseller(r.Context(), a, service.ResellerInput{
		Name:           req.Name,
		CommissionRate: req.CommissionRate,
		UsesLogistics:  req.UsesLogistics,
	})
	if err != nil {
		h.writeError(w, "create reseller", err)
		return
	}

	writeJSON(w, http.StatusCreated, newResellerResponse(rs))
}

// GetReseller возвращает реселлера с накопленной комиссией.
func (h *Handler) GetReseller(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rs, err := h.service.GetReseller(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "get reseller", err)
		return
	}

	writeJSON(w, http.StatusOK, newResellerResponse(rs))
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference" validate:"max=200"`
	Notes     string          `json:"notes" validate:"max=1000"`
}

// RecordPayment фиксирует выплату реселлеру.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.RecordPayment(r.Context(), a, service.PaymentInput{
		ResellerID: id,
		Amount:     req.Amount,
		Method:     model.PaymentMethod(req.Method),
		Reference:  req.Reference,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, "record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, newPaymentResponse(p))
}

// ListResellerPayments возвращает историю выплат реселлеру.
func (h *Handler) ListResellerPayments(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	list, err := h.service.ListResellerPayments(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "list reseller payments", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, newPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type accountingRequest struct {
	Kind         string          `json:"kind" validate:"required,oneof=income expense"`
	Concept      string          `json:"concept" validate:"required,max=500"`
	Amount       decimal.Decimal `json:"amount"`
	RemittanceID *int64          `json:"remittance_id"`
}

// RecordAccounting добавляет запись в бухгалтерский журнал.
func (h *Handler) RecordAccounting(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req accountingRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, err := h.service.RecordAccounting(r.Context(), a, service.AccountingInput{
		Kind:         model.AccountingKind(req.Kind),
		Concept:      req.Concept,
		Amount:       req.Amount,
		RemittanceID: req.RemittanceID,
	})
	if err != nil {
		h.writeError(w, "record accounting", err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountingResponse(m))
}

// accountingFilter разбирает параметры from, to (RFC 3339), kind и remittance_id.
func accountingFilter(r *http.Request) (repository.AccountingFilter, error) {
	var f repository.AccountingFilter
	q := r.URL.Query()

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, model.NewValidationError(name, raw, "expected RFC 3339 timestamp")
		}
		*dst = &t
	}

	if raw := q.Get("kind"); raw != "" {
		kind, err := model.ParseAccountingKind(raw)
		if err != nil {
			return f, err
		}
		f.Kind = &kind
	}

	id, err := queryID(r, "remittance_id")
	if err != nil {
		return f, err
	}
	f.RemittanceID = id
	return f, nil
}

// ListAccounting возвращает записи журнала.
func (h *Handler) ListAccounting(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	f, err := accountingFilter(r)
	if err != nil {
		h.writeError(w, "list accounting", err)
		return
	}

	list, err := h.service.ListAccounting(r.Context(), a, f)
	if err != nil {
		h.writeError(w, "list accounting", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]accountingResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, newAccountingResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AccountingSummary возвращает итоги журнала за период.
func (h *Handler) AccountingSummary(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	f, err := accountingFilter(r)
	if err != nil {
		h.writeError(w, "accounting summary", err)
		return
	}

	summary, err := h.service.AccountingSummary(r.Context(), a, f)
	if err != nil {
		h.writeError(w, "accounting summary", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
