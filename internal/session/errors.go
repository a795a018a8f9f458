package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed upstream request. Adapters map these onto
// degradation flags; the breaker's classifier decides which kinds count as
// circuit failures.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindTimeout
	KindRateLimited // 429
	KindAuthExpired // 401/403 after the single re-auth attempt
	KindBadResponse // other 4xx
	KindUpstream    // 5xx
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindBadResponse:
		return "bad_response"
	case KindUpstream:
		return "upstream_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the structured failure surfaced by the session manager.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int // HTTP status when one was received, else 0
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to network for errors that did
// not come from the session layer.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindNetwork, false
}

// IsTransient reports whether the kind is worth retrying.
func (k ErrorKind) IsTransient() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindUpstream:
		return true
	default:
		return false
	}
}

// IsBreakerFailure reports whether the kind should trip the circuit.
// Client-side rejections other than 429 are not upstream faults.
func (k ErrorKind) IsBreakerFailure() bool {
	switch k {
	case KindNetwork, KindTimeout, KindUpstream, KindRateLimited:
		return true
	default:
		return false
	}
}
