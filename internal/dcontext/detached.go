package dcontext

import "context"

// DetachedContext returns a context that won't be canceled when the parent
// context is canceled. Values on the parent (logger, request id) are
// preserved. Used for work that must outlive the request that triggered it,
// such as event delivery and background cleanup.
func DetachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
