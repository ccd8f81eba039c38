package auth

import "net/http"

// Middleware resolves the caller's identity and stores the result on the
// request context. It never rejects: anonymous callers pass through and are
// refused later by the authorization checker.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := resolver.Resolve(r)
			next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), result)))
		})
	}
}
