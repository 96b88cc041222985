// Package handler содержит HTTP-обработчики API сервиса переводов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/remittance-ledger/internal/middleware"
	"github.com/mmeshcher/remittance-ledger/internal/model"
	"github.com/mmeshcher/remittance-ledger/internal/pricing"
	"github.com/mmeshcher/remittance-ledger/internal/rates"
	"github.com/mmeshcher/remittance-ledger/internal/repository"
	"github.com/mmeshcher/remittance-ledger/internal/service"
	"github.com/mmeshcher/remittance-ledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Quote(ctx context.Context, in service.QuoteInput) (pricing.Result, error)
	CreateRemittance(ctx context.Context, actor model.Actor, in service.CreateInput) (*model.Remittance, error)
	SubmitRequest(ctx context.Context, in service.CreateInput) (*model.Remittance, error)
	Approve(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error)
	Assign(ctx context.Context, actor model.Actor, id, courierID int64) (*model.Remittance, error)
	Unassign(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error)
	Deliver(ctx context.Context, actor model.Actor, id int64, in service.DeliverInput) (*model.Remittance, error)
	Invoice(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error)
	Cancel(ctx context.Context, actor model.Actor, id int64, reason string) (*model.Remittance, error)
	GetRemittance(ctx context.Context, actor model.Actor, id int64) (*model.Remittance, error)
	TrackRemittance(ctx context.Context, code string) (*model.Remittance, error)
	ListRemittances(ctx context.Context, actor model.Actor, f repository.RemittanceFilter) ([]model.Remittance, error)

	Allocate(ctx context.Context, actor model.Actor, in service.MovementInput) (model.CashMovement, error)
	Withdraw(ctx context.Context, actor model.Actor, in service.MovementInput) (model.CashMovement, error)
	RecordPickup(ctx context.Context, actor model.Actor, in service.MovementInput) (model.CashMovement, error)
	SellCurrency(ctx context.Context, actor model.Actor, courierID int64, usd, rate decimal.Decimal, notes string) (service.CurrencySale, error)
	CreateCourier(ctx context.Context, actor model.Actor, name string) (*model.Courier, error)
	SetCourierActive(ctx context.Context, actor model.Actor, courierID int64, active bool) (*model.Courier, error)
	GetCourier(ctx context.Context, actor model.Actor, courierID int64) (*model.Courier, error)
	ListCouriers(ctx context.Context, actor model.Actor) ([]model.Courier, error)
	ListCashMovements(ctx context.Context, actor model.Actor, courierID int64) ([]model.CashMovement, error)
	ReconcileCourier(ctx context.Context, actor model.Actor, courierID int64) (service.Reconciliation, error)

	CreateReseller(ctx context.Context, actor model.Actor, in service.ResellerInput) (*model.Reseller, error)
	GetReseller(ctx context.Context, actor model.Actor, resellerID int64) (*model.Reseller, error)
	RecordPayment(ctx context.Context, actor model.Actor, in service.PaymentInput) (model.ResellerPayment, error)
	ListResellerPayments(ctx context.Context, actor model.Actor, resellerID int64) ([]model.ResellerPayment, error)

	RecordAccounting(ctx context.Context, actor model.Actor, in service.AccountingInput) (model.AccountingMovement, error)
	ListAccounting(ctx context.Context, actor model.Actor, f repository.AccountingFilter) ([]model.AccountingMovement, error)
	AccountingSummary(ctx context.Context, actor model.Actor, f repository.AccountingFilter) (model.AccountingSummary, error)

	ListTiers(ctx context.Context, actor model.Actor) ([]model.CommissionTier, error)
	SaveTier(ctx context.Context, actor model.Actor, tier model.CommissionTier) (model.CommissionTier, error)

	ResolveRate(ctx context.Context, pair model.Pair) (rates.Resolved, error)
	ListExchangeRates(ctx context.Context, actor model.Actor, pair model.Pair) ([]model.ExchangeRate, error)
	RateHistory(ctx context.Context, actor model.Actor, pair model.Pair) ([]model.ExchangeRateHistory, error)
	SetManualRate(ctx context.Context, actor model.Actor, pair model.Pair, rate decimal.Decimal) error
	ClearManualRate(ctx context.Context, actor model.Actor, pair model.Pair) error
	RefreshRate(ctx context.Context, actor model.Actor, pair model.Pair) error
}

// Handler реализует HTTP-обработчики API сервиса переводов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
	metrics        http.Handler
}

// Option настраивает Handler.
type Option func(*Handler)

// WithMetricsHandler публикует метрики по пути /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// decode разбирает JSON-тело запроса и проверяет теги validate.
// При ошибке ответ уже записан.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusUnprocessableEntity, model.NewValidationError(
				strings.ToLower(fe.Field()), fe.Param(), "failed "+fe.Tag()+" check"))
			return false
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-ответ. Доменные ошибки возвращаются
// телом с видом, полем и значением.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var domainErr *model.Error
	switch {
	case errors.As(err, &domainErr):
		writeJSON(w, statusFor(domainErr.Kind), domainErr)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrRatesNotConfigured):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, rates.ErrRefreshFailed):
		h.logger.Warn(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidStateTransition, model.KindCourierInactive, model.KindDuplicateTrackingCode:
		return http.StatusConflict
	case model.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

// actor возвращает инициатора запроса. Маршруты с actor всегда закрыты AuthMiddleware.
func actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return a, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, model.NewValidationError(name, raw, "expected integer")
	}
	return &id, nil
}

type remittanceRequest struct {
	SenderName         string          `json:"sender_name" validate:"required,max=200"`
	SenderPhone        string          `json:"sender_phone" validate:"max=32"`
	BeneficiaryName    string          `json:"beneficiary_name" validate:"required,max=200"`
	BeneficiaryPhone   string          `json:"beneficiary_phone" validate:"max=32"`
	BeneficiaryAddress string          `json:"beneficiary_address" validate:"max=500"`
	ProvinceID         *int64          `json:"province_id"`
	MunicipalityID     *int64          `json:"municipality_id"`
	DeliveryType       string          `json:"delivery_type" validate:"required,oneof=local hard"`
	Amount             decimal.Decimal `json:"amount"`
	ResellerID         *int64          `json:"reseller_id"`
	Notes              string          `json:"notes" validate:"max=1000"`
}

func (req remittanceRequest) input() service.CreateInput {
	return service.CreateInput{
		SenderName:         req.SenderName,
		SenderPhone:        req.SenderPhone,
		BeneficiaryName:    req.BeneficiaryName,
		BeneficiaryPhone:   req.BeneficiaryPhone,
		BeneficiaryAddress: req.BeneficiaryAddress,
		ProvinceID:         req.ProvinceID,
		MunicipalityID:     req.MunicipalityID,
		DeliveryType:       model.DeliveryType(req.DeliveryType),
		Amount:             req.Amount,
		ResellerID:         req.ResellerID,
		Notes:              req.Notes,
	}
}

type quoteRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	DeliveryType string          `json:"delivery_type" validate:"required,oneof=local hard"`
	ResellerID   *int64          `json:"reseller_id"`
}

// Quote рассчитывает стоимость заказа без его создания.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Quote(r.Context(), service.QuoteInput{
		Amount:       req.Amount,
		DeliveryType: model.DeliveryType(req.DeliveryType),
		ResellerID:   req.ResellerID,
	})
	if err != nil {
		h.writeError(w, "quote", err)
		return
	}

	writeJSON(w, http.StatusOK, newQuoteResponse(res))
}

// SubmitRequest принимает публичную заявку на перевод.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req remittanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	rem, err := h.service.SubmitRequest(r.Context(), req.input())
	if err != nil {
		h.writeError(w, "submit request", err)
		return
	}

	writeJSON(w, http.StatusCreated, newTrackingResponse(rem))
}

// Track возвращает состояние заказа по публичному коду отслеживания.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if !validation.IsValidTrackingCode(code) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	rem, err := h.service.TrackRemittance(r.Context(), code)
	if err != nil {
		h.writeError(w, "track", err)
		return
	}

	writeJSON(w, http.StatusOK, newTrackingResponse(rem))
}

// CreateRemittance создаёт заказ от имени персонала или реселлера.
func (h *Handler) CreateRemittance(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req remittanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	rem, err := h.service.CreateRemittance(r.Context(), a, req.input())
	if err != nil {
		h.writeError(w, "create remittance", err)
		return
	}

	writeJSON(w, http.StatusCreated, newRemittanceResponse(rem))
}

// GetRemittance возвращает заказ по идентификатору.
func (h *Handler) GetRemittance(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rem, err := h.service.GetRemittance(r.Context(), a, id)
	if err != nil {
		h.writeError(w, "get remittance", err)
		return
	}

	writeJSON(w, http.StatusOK, newRemittanceResponse(rem))
}

// ListRemittances возвращает заказы по фильтрам state, courier_id, reseller_id и limit.
func (h *Handler) ListRemittances(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var f repository.RemittanceFilter
	q := r.URL.Query()
	if raw := q.Get("state"); raw != "" {
		st := model.State(raw)
		if !st.Valid() {
			writeJSON(w, http.StatusUnprocessableEntity, model.NewValidationError("state", raw, "unknown state"))
			return
		}
		f.State = &st
	}
	var err error
	if f.CourierID, err = queryID(r, "courier_id"); err != nil {
		h.writeError(w, "list remittances", err)
		return
	}
	if f.ResellerID, err = queryID(r, "reseller_id"); err != nil {
		h.writeError(w, "list remittances", err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusUnprocessableEntity, model.NewValidationError("limit", raw, "expected non-negative integer"))
			return
		}
		f.Limit = limit
	}

	list, err := h.service.ListRemittances(r.Context(), a, f)
	if err != nil {
		h.writeError(w, "list remittances", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]remittanceResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newRemittanceResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// transitionFunc: вызов сервиса, переводящий заказ в новое состояние.
type transitionFunc func(ctx context.Context, a model.Actor, id int64, r *http.Request) (*model.Remittance, error)

// transition оборачивает переход заказа: инициатор, идентификатор из пути, ответ с заказом.
func (h *Handler) transition(op string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		rem, err := fn(r.Context(), a, id, r)
		if err != nil {
			h.writeError(w, op, err)
			return
		}

		writeJSON(w, http.StatusOK, newRemittanceResponse(rem))
	}
}

// decodeInto разбирает необязательное тело перехода; пустое тело допустимо.
func (h *Handler) decodeInto(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError("body", "", "invalid JSON")
	}
	if err := h.validate.Struct(dst); err != nil {
		return model.NewValidationError("body", "", err.Error())
	}
	return nil
}

// Approve одобряет публичную заявку.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition("approve", func(ctx context.Context, a model.Actor, id int64, _ *http.Request) (*model.Remittance, error) {
		return h.service.Approve(ctx, a, id)
	})(w, r)
}

type assignRequest struct {
	CourierID int64 `json:"courier_id"`
}

// Assign назначает заказ курьеру.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	h.transition("assign", func(ctx context.Context, a model.Actor, id int64, r *http.Request) (*model.Remittance, error) {
		var req assignRequest
		if err := h.decodeInto(r, &req); err != nil {
			return nil, err
		}
		if req.CourierID <= 0 {
			return nil, model.NewValidationError("courier_id", strconv.FormatInt(req.CourierID, 10), "required")
		}
		return h.service.Assign(ctx, a, id, req.CourierID)
	})(w, r)
}

// Unassign снимает курьера с заказа.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	h.transition("unassign", func(ctx context.Context, a model.Actor, id int64, _ *http.Request) (*model.Remittance, error) {
		return h.service.Unassign(ctx, a, id)
	})(w, r)
}

type deliverRequest struct {
	ProofRef string `json:"proof_ref" validate:"max=500"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// Deliver фиксирует выдачу заказа получателю.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.transition("deliver", func(ctx context.Context, a model.Actor, id int64, r *http.Request) (*model.Remittance, error) {
		var req deliverRequest
		if err := h.decodeInto(r, &req); err != nil {
			return nil, err
		}
		return h.service.Deliver(ctx, a, id, service.DeliverInput{ProofRef: req.ProofRef, Notes: req.Notes})
	})(w, r)
}

// Invoice помечает выданный заказ как выставленный.
func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	h.transition("invoice", func(ctx context.Context, a model.Actor, id int64, _ *http.Request) (*model.Remittance, error) {
		return h.service.Invoice(ctx, a, id)
	})(w, r)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// Cancel отменяет заказ.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition("cancel", func(ctx context.Context, a model.Actor, id int64, r *http.Request) (*model.Remittance, error) {
		var req cancelRequest
		if err := h.decodeInto(r, &req); err != nil {
			return nil, err
		}
		return h.service.Cancel(ctx, a, id, req.Reason)
	})(w, r)
}
