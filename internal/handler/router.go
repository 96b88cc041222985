package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/remittance-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса переводов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/public", func(r chi.Router) {
			r.Post("/quotes", h.Quote)
			r.Post("/requests", h.SubmitRequest)
			r.Get("/remittances/{code}", h.Track)
			r.Get("/rates/{pair}", h.ResolveRate)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/remittances", func(r chi.Router) {
				r.Post("/", h.CreateRemittance)
				r.Get("/", h.ListRemittances)
				r.Get("/{id}", h.GetRemittance)
				r.Post("/{id}/approve", h.Approve)
				r.Post("/{id}/assign", h.Assign)
				r.Post("/{id}/unassign", h.Unassign)
				r.Post("/{id}/deliver", h.Deliver)
				r.Post("/{id}/invoice", h.Invoice)
				r.Post("/{id}/cancel", h.Cancel)
			})

			r.Route("/couriers", func(r chi.Router) {
				r.Post("/", h.CreateCourier)
				r.Get("/", h.ListCouriers)
				r.Get("/{id}", h.GetCourier)
				r.Patch("/{id}", h.SetCourierActive)
				r.Get("/{id}/movements", h.ListCashMovements)
				r.Post("/{id}/allocations", h.Allocate)
				r.Post("/{id}/withdrawals", h.Withdraw)
				r.Post("/{id}/pickups", h.RecordPickup)
				r.Post("/{id}/currency-sales", h.SellCurrency)
				r.Get("/{id}/reconciliation", h.ReconcileCourier)
			})

			r.Route("/resellers", func(r chi.Router) {
				r.Post("/", h.CreateReseller)
				r.Get("/{id}", h.GetReseller)
				r.Get("/{id}/payments", h.ListResellerPayments)
				r.Post("/{id}/payments", h.RecordPayment)
			})

			r.Route("/accounting", func(r chi.Router) {
				r.Post("/", h.RecordAccounting)
				r.Get("/", h.ListAccounting)
				r.Get("/summary", h.AccountingSummary)
			})

			r.Route("/tiers", func(r chi.Router) {
				r.Get("/", h.ListTiers)
				r.Post("/", h.CreateTier)
				r.Put("/{id}", h.UpdateTier)
			})

			r.Route("/rates/{pair}", func(r chi.Router) {
				r.Get("/sources", h.ListExchangeRates)
				r.Get("/history", h.RateHistory)
				r.Put("/manual", h.SetManualRate)
				r.Delete("/manual", h.ClearManualRate)
				r.Post("/refresh", h.RefreshRate)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
