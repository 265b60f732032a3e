// Package middlewares holds the HTTP cross-cutting concerns: request
// IDs, structured logging, panic recovery, security headers, rate
// limiting and the front-door principal lookup.
package middlewares

import "net/http"

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares left to right: Chain(h, A, B, C) runs
// A -> B -> C -> h, so A intercepts the request first and sees the
// response last.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
