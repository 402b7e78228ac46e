package services

import "errors"

// Sentinel errors for the battle engine. Handlers and the websocket
// gateway match on these with errors.Is to pick the outbound error code.
var (
	// ErrNotFound reports an unknown room code or an identity that is not
	// part of the room.
	ErrNotFound = errors.New("not found")

	// ErrForbidden reports a non-owner attempting an owner-only action.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState reports an operation that is illegal in the room's
	// current state: a submission outside an open round, a duplicate
	// submission, or a transition the state machine does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrExhausted reports that no unused questions remain for the
	// room's current subject.
	ErrExhausted = errors.New("no unused questions remain")

	// ErrUpstream reports a failed or timed out call to the question
	// bank or the scoring ledger.
	ErrUpstream = errors.New("upstream failure")
)

// ErrorCode maps an engine error to the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrUpstream):
		return "upstream_failure"
	default:
		return "internal"
	}
}
