package webreq

import "context"

type ctxKey struct{}

// NewContext returns ctx carrying the exchange.
func NewContext(ctx context.Context, ex *Exchange) context.Context {
	return context.WithValue(ctx, ctxKey{}, ex)
}

// FromContext returns the request's exchange, or nil when the request
// did not pass through the mediation middleware.
func FromContext(ctx context.Context) *Exchange {
	ex, _ := ctx.Value(ctxKey{}).(*Exchange)
	return ex
}
