package httpx

import (
	"context"
	"net/http"
)

// Identity verification happens upstream; this service only consumes the
// resolved caller as an opaque (id, privileged) pair carried in headers.
const (
	HeaderCallerID         = "X-Caller-Id"
	HeaderCallerPrivileged = "X-Caller-Privileged"
)

type callerKey struct{}

type Caller struct {
	ID         string
	Privileged bool
}

func WithCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCallerID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing caller identity"})
			return
		}
		c := Caller{ID: id, Privileged: r.Header.Get(HeaderCallerPrivileged) == "true"}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
