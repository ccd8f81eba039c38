package auth

import "context"

// ResultContextKey is the key used to store the resolved authentication
// Result in the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same
// name in different packages.
type ResultContextKey struct{}

// WithResult stores a resolved authentication Result in the context.
// If result is nil, the original context is returned unchanged.
func WithResult(ctx context.Context, result *Result) context.Context {
	if result == nil {
		return ctx
	}
	return context.WithValue(ctx, ResultContextKey{}, result)
}

// ResultFromContext retrieves the resolved authentication Result from the
// context. Returns the result and true if present, nil and false otherwise.
func ResultFromContext(ctx context.Context) (*Result, bool) {
	result, ok := ctx.Value(ResultContextKey{}).(*Result)
	return result, ok
}
