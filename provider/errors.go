package provider

import "errors"

// Backend outcomes the lifecycle layer has to tell apart. The three are
// mutually exclusive for a single call:
//
//   - ErrBackendUnavailable: the call never took effect (transport failure,
//     timeout, or the backend said it is overloaded). Safe to retry.
//   - ErrBackendRejected: the backend refused the request. Retrying the
//     same request will not help.
//   - ErrBackendUnknown: the backend may or may not have acted. Must never
//     be coerced to success or failure.
var (
	ErrBackendUnavailable = errors.New("compute backend unavailable")
	ErrBackendRejected    = errors.New("compute backend rejected request")
	ErrBackendUnknown     = errors.New("compute backend outcome unknown")
)
