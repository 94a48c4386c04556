// Package ratelimit paces API method calls.
//
// The API rejects clients that exceed a small number of calls per second, so
// every page request waits on a Limiter first. SlidingWindow tracks the
// requests made within the last window and delays the next one until the
// oldest leaves it. Unlimited is used when pacing is disabled.
//
// Usage:
//
//	limiter := ratelimit.New(3) // three calls per second
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
