package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/playhost-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса playhost.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/store/items", h.GetStoreItems)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/auth/me", h.Me)

			r.Get("/economy/wallet", h.GetWallet)
			r.Get("/economy/transactions", h.GetTransactions)
			r.Post("/economy/daily/claim", h.ClaimDaily)
			r.Post("/economy/coupon/redeem", h.RedeemCoupon)

			r.Post("/store/purchase", h.Purchase)

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", h.GetServers)
				r.Post("/deploy", h.Deploy)
				r.Get("/{id}", h.GetServer)
				r.Post("/{id}/power", h.Power)
				r.Post("/{id}/renew", h.Renew)
				r.Delete("/{id}", h.Delete)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
