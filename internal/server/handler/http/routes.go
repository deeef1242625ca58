package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/krypkey/krypkey/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the pairing and sync
// API under /api.
//
// Public endpoints (session-scoped or pre-auth):
//
//	POST /api/register              → userHandler.Register
//	POST /api/login                 → userHandler.Login
//	POST /api/create-session        → sessionHandler.CreateSession
//	POST /api/check-session         → sessionHandler.Check
//	POST /api/pending-password      → relayHandler.AddPending
//	POST /api/has-pending-passwords → relayHandler.HasPending
//
// Protected endpoints (bearer token):
//
//	POST /api/authenticate          → sessionHandler.Authenticate
//	GET  /api/sessions              → sessionHandler.List
//	POST /api/delete-session        → sessionHandler.Delete
//	POST /api/logout                → sessionHandler.Delete
//	POST /api/pending-passwords     → relayHandler.GetPending
//	POST /api/mark-saved            → relayHandler.MarkSaved
//	POST /api/process-passwords     → relayHandler.ProcessPending
//	POST /api/add-password          → credentialHandler.Add
//	POST /api/passwords             → credentialHandler.List
//	POST /api/delete-password       → credentialHandler.Delete
func NewRouter(
	userHandler *UserHandler,
	sessionHandler *SessionHandler,
	relayHandler *RelayHandler,
	credentialHandler *CredentialHandler,
	verifier middleware.TokenVerifier,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)

		r.Post("/create-session", sessionHandler.CreateSession)
		r.Post("/check-session", sessionHandler.Check)

		r.Post("/pending-password", relayHandler.AddPending)
		r.Post("/has-pending-passwords", relayHandler.HasPending)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(verifier))

			r.Post("/authenticate", sessionHandler.Authenticate)
			r.Get("/sessions", sessionHandler.List)
			r.Post("/delete-session", sessionHandler.Delete)
			r.Post("/logout", sessionHandler.Delete)

			r.Post("/pending-passwords", relayHandler.GetPending)
			r.Post("/mark-saved", relayHandler.MarkSaved)
			r.Post("/process-passwords", relayHandler.ProcessPending)

			r.Post("/add-password", credentialHandler.Add)
			r.Post("/passwords", credentialHandler.List)
			r.Post("/delete-password", credentialHandler.Delete)
		})
	})

	return r
}
