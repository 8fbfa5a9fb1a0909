package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/library-lending/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса выдачи книг.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/library", func(r chi.Router) {
		r.Get("/fees/{userId}", h.GetOutstandingFees)
		r.Get("/transactions/{userId}", h.GetUserLibraryTransactions)

		r.Post("/checkoutBook", h.CheckOutBook)
		r.Post("/checkoutBooks", h.CheckOutBooks)
		r.Post("/return", h.ReturnBook)
		r.Post("/renew", h.RenewBook)
		r.Post("/payment", h.ProcessFeePayment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
