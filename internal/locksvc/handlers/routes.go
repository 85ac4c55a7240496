package handlers

import (
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			// browsers cannot set headers on a websocket upgrade, so the feed
			// also takes the token as ?jwt=
			r.Use(jwtauth.Verify(h.tokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromCookie, jwtauth.TokenFromQuery))
			r.Use(jwtauth.Authenticator)

			r.Get("/device", h.DeviceHandler)
			r.Get("/storage", h.StorageHandler)
			r.Get("/members", h.MembersHandler)
			r.Get("/attendance/{date}", h.AttendanceHandler)
			r.Get("/ws", h.HandleWebSocket)

			if h.sim != nil {
				r.Post("/sim/touch", h.SimTouchHandler)
			}
		})
	})
}

// InitAuth sets the HS256 key that operator tokens must be signed with.
func (h *Handler) InitAuth(secret string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(secret), nil)
}
