package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// NewRouter serves the event stream on /ws and the current snapshot on
// /snapshot.
func NewRouter(h *Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.HandleConnection)
	r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, h.src.Snapshot())
	})

	return r
}

// NewServer returns an *http.Server for the stream. WriteTimeout is left
// unset because connections are long lived.
func NewServer(addr string, h *Hub) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
