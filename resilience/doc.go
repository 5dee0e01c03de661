// Package resilience wraps stage transformations with fault-tolerance
// policies.
//
// Every decorator takes a func(context.Context, I) (O, error) and returns one
// with the same shape, so it can be handed straight to pipeline.Then:
//
//	fetch := resilience.WithRetry(resilience.DefaultRetryConfig(), download)
//	fetch = resilience.WithCircuitBreaker(cb, fetch)
//	fetch = resilience.WithRateLimit(rl, fetch)
//
//	b := pipeline.Then(src, fetch, pipeline.Ordered(4))
//
// Rejections are reported as AppErrors (UNAVAILABLE, RATE_LIMITED) that
// wrap the package sentinels, so both errors.Is(err, ErrCircuitOpen) and
// errors.IsCode(err, errors.ErrCodeUnavailable) hold.
package resilience
