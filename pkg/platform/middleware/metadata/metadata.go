// Package metadata records where an admin request came from.
package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKeyClientIP struct{}
type contextKeyUserAgent struct{}

// ClientMetadata stores the client IP and User-Agent in the request context.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.UserAgent())))
	})
}

func GetClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(contextKeyClientIP{}).(string)
	return ip
}

func GetUserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(contextKeyUserAgent{}).(string)
	return ua
}

// WithClientMetadata injects client metadata without running the middleware.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, contextKeyClientIP{}, clientIP)
	return context.WithValue(ctx, contextKeyUserAgent{}, userAgent)
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
