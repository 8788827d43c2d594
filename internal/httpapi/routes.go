package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/fake-tasker-backend/internal/presence"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/DoyleJ11/fake-tasker-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(st store.Store, tracker *presence.Tracker, def Defaults, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(st, def))
		r.Get("/{code}", GetSession(st, def))
		r.Post("/{code}/join", JoinSession(st, def))
		r.Get("/{code}/qr.png", JoinQR(st, def))
	})
	r.Get("/ws", ws.Handler(st, tracker, wsOpts))
	return r
}
