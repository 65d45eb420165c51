package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/library-circulation/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса выдачи книг.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/loans", h.Borrow)
		r.Get("/members/me/loans", h.MyLoans)
		r.Post("/reservations", h.Reserve)
		r.Delete("/reservations/{id}", h.CancelReservation)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireLibrarian)

			r.Get("/loans/overdue", h.ListOverdue)
			r.Post("/loans/sweep", h.Sweep)
			r.Get("/loans/{id}", h.GetLoan)
			r.Post("/loans/{id}/return", h.Return)
			r.Post("/loans/{id}/extend", h.Extend)
			r.Get("/loans/{id}/fine", h.Fine)

			r.Patch("/reservations/{id}", h.UpdateReservationStatus)

			r.Post("/books", h.AddBook)
			r.Get("/books/{id}/reservations", h.BookReservations)
			r.Put("/books/{id}/inventory", h.CorrectInventory)

			r.Post("/members", h.RegisterMember)
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
