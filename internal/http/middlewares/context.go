package middlewares

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKeyRequestID struct{}
type ctxKeyPrincipalID struct{}

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, rid)
}

// GetRequestID returns the request ID injected by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID{}).(string); ok {
		return v
	}
	return ""
}

func setPrincipalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipalID{}, id)
}

// GetPrincipalID returns the authenticated principal ID, or "".
func GetPrincipalID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyPrincipalID{}).(string); ok {
		return v
	}
	return ""
}

// ClientIP extracts the client IP, honoring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
