package middlewares

import (
	"net/http"
	"strings"

	"github.com/edline/otpgate/internal/http/errors"
)

// WithPrincipal is the front-door authentication contract: the service
// sits behind the primary-credential layer (password login), which
// forwards the authenticated identity as X-User-ID. Requests without it
// are rejected; the verified ID goes into the context.
func WithPrincipal() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pid := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if pid == "" {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("missing X-User-ID"))
				return
			}
			ctx := setPrincipalID(r.Context(), pid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
