package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// NewRouter constructs the bankd router with all endpoints registered.
func NewRouter(svc BankService, log *slog.Logger) http.Handler {
	h := NewHandler(svc, log)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/players/{playerId}", func(r chi.Router) {
		r.Get("/balance", h.GetBalanceHandler)
		r.Post("/transactions", h.ProcessTransactionHandler)
	})

	return r
}
