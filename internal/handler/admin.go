package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// ListTiers возвращает диапазоны комиссий.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	tiers, err := h.service.ListTiers(r.Context(), a)
	if err != nil {
		h.writeError(w, "list tiers", err)
		return
	}

	resp := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, newTierResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

type tierRequest struct {
	Name       string           `json:"name" validate:"required,max=100"`
	RangeMin   decimal.Decimal  `json:"range_min"`
	RangeMax   *decimal.Decimal `json:"range_max"`
	Percentage decimal.Decimal  `json:"percentage"`
	FixedFee   decimal.Decimal  `json:"fixed_fee"`
	Active     bool             `json:"active"`
}

func (req tierRequest) tier(id int64) model.CommissionTier {
	return model.CommissionTier{
		ID:         id,
		Name:       req.Name,
		RangeMin:   req.RangeMin,
		RangeMax:   req.RangeMax,
		Percentage: req.Percentage,
		FixedFee:   req.FixedFee,
		Active:     req.Active,
	}
}

// CreateTier добавляет диапазон комиссий.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req tierRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.service.SaveTier(r.Context(), a, req.tier(0))
	if err != nil {
		h.writeError(w, "create tier", err)
		return
	}

	writeJSON(w, http.StatusCreated, newTierResponse(t))
}

// UpdateTier изменяет диапазон комиссий.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req tierRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.service.SaveTier(r.Context(), a, req.tier(id))
	if err != nil {
		h.writeError(w, "update tier", err)
		return
	}

	writeJSON(w, http.StatusOK, newTierResponse(t))
}

func pathPair(w http.ResponseWriter, r *http.Request) (model.Pair, bool) {
	pair, err := model.ParsePair(chi.URLParam(r, "pair"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, err)
		return model.Pair{}, false
	}
	return pair, true
}

// ResolveRate возвращает курс, который получит новый заказ.
func (h *Handler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	res, err := h.service.ResolveRate(r.Context(), pair)
	if err != nil {
		h.writeError(w, "resolve rate", err)
		return
	}

	writeJSON(w, http.StatusOK, newResolvedResponse(res))
}

// ListExchangeRates возвращает записи курса по всем источникам.
func (h *Handler) ListExchangeRates(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListExchangeRates(r.Context(), a, pair)
	if err != nil {
		h.writeError(w, "list rates", err)
		return
	}

	resp := make([]rateResponse, 0, len(list))
	for _, rate := range list {
		resp = append(resp, newRateResponse(rate))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RateHistory возвращает аудит изменений курса.
func (h *Handler) RateHistory(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	list, err := h.service.RateHistory(r.Context(), a, pair)
	if err != nil {
		h.writeError(w, "rate history", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]rateHistoryResponse, 0, len(list))
	for _, entry := range list {
		resp = append(resp, newRateHistoryResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

type manualRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// SetManualRate устанавливает ручной курс.
func (h *Handler) SetManualRate(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	var req manualRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.SetManualRate(r.Context(), a, pair, req.Rate); err != nil {
		h.writeError(w, "set manual rate", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearManualRate снимает ручной курс.
func (h *Handler) ClearManualRate(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearManualRate(r.Context(), a, pair); err != nil {
		h.writeError(w, "clear manual rate", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshRate запрашивает курс у внешних поставщиков.
func (h *Handler) RefreshRate(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	pair, ok := pathPair(w, r)
	if !ok {
		return
	}

	if err := h.service.RefreshRate(r.Context(), a, pair); err != nil {
		h.writeError(w, "refresh rate", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
