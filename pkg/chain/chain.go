// Package chain provides a generic ordered middleware pipeline used to
// compose request handling around a terminal handler.
//
// It generalizes the usual func(http.Handler) http.Handler composition to
// arbitrary request/response pairs so the same pattern can wrap protocol
// operations that are not HTTP handlers.
package chain

import "context"

// Handler processes a request and produces a response.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Middleware wraps a handler. Each middleware decides whether to invoke
// next (continue the chain) or to return its own response (short-circuit),
// and may transform next's result before returning it.
type Middleware[Req, Resp any] func(next Handler[Req, Resp]) Handler[Req, Resp]

// Build composes middlewares around a terminal handler. Invocation order is
// list order: the first middleware sees the request first. With zero
// middlewares the terminal handler is returned unchanged.
func Build[Req, Resp any](terminal Handler[Req, Resp], middlewares ...Middleware[Req, Resp]) Handler[Req, Resp] {
	h := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
