// Package router assembles the HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edline/otpgate/internal/cache"
	loginctrl "github.com/edline/otpgate/internal/http/controllers/login"
	httperrors "github.com/edline/otpgate/internal/http/errors"
	mw "github.com/edline/otpgate/internal/http/middlewares"
	"github.com/edline/otpgate/internal/rate"
)

// Deps carries everything the router wires together.
type Deps struct {
	OTP *loginctrl.OTPController

	// Cache is pinged by the readiness probe.
	Cache cache.Client

	// Limiters are optional; nil disables rate limiting for that group.
	LoginLimiter  rate.Limiter
	SubmitLimiter rate.Limiter
}

// New builds the router with all routes and middlewares registered.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.WithRequestID(),
		mw.WithRecover(),
		mw.WithSecurityHeaders(),
		mw.WithLogging(),
	)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	registerHealthRoutes(r, deps.Cache)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/login/otp", func(r chi.Router) {
			r.Use(mw.WithNoStore(), mw.WithPrincipal())

			r.With(mw.WithRateLimit(deps.LoginLimiter, mw.PrincipalRateKey)).
				Get("/", deps.OTP.Initiate)
			r.Get("/qr", deps.OTP.QR)
			r.With(mw.WithRateLimit(deps.SubmitLimiter, mw.PrincipalRateKey)).
				Post("/", deps.OTP.Submit)
			r.Delete("/", deps.OTP.Cancel)
		})

		r.With(mw.WithNoStore(), mw.WithPrincipal()).
			Delete("/users/{userID}/mfa", deps.OTP.Reset)
	})

	return r
}
