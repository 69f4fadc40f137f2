// Package trace - HTTP middleware and header propagation.
package trace

import (
	"context"
	"net/http"
)

// Middleware extracts or creates trace context for HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := ParseTraceparent(r.Header.Get(TraceparentHeader))
		if !ok {
			tc = New()
		}
		ctx := WithContext(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Inject stamps the context's traceparent on outgoing headers, minting
// a fresh context when none is present.
func Inject(ctx context.Context, h http.Header) {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	}
	h.Set(TraceparentHeader, tc.Traceparent())
}
