package upstream

import "errors"

// ErrUnavailable is returned when the provider cannot be reached, the
// circuit is open, or retries are exhausted on transient failures.
var ErrUnavailable = errors.New("upstream unavailable")

// ErrRateLimited is returned when the provider rejects with 429 after
// retries are exhausted.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrBadResponse is returned when the provider answers with a payload the
// parser rejects.
var ErrBadResponse = errors.New("upstream bad response")
