package match

import "errors"

// Error is a recoverable fault raised by an inbound event. Code is what
// clients see in the error event; Message is human readable.
type Error struct {
	Code    string
	Message string
	kind    *Error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches by code, and also matches the broader kind a refined error
// belongs to (ErrAlreadyWatching is a DUPLICATE_SESSION).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for k := e; k != nil; k = k.kind {
		if k.Code == t.Code {
			return true
		}
	}
	return false
}

var (
	ErrNotRegistered      = &Error{Code: "NOT_REGISTERED", Message: "connection is not registered"}
	ErrNotInSession       = &Error{Code: "NOT_IN_SESSION", Message: "no session attached"}
	ErrDuplicateSession   = &Error{Code: "DUPLICATE_SESSION", Message: "already attached to a session"}
	ErrDuplicateInvite    = &Error{Code: "DUPLICATE_INVITE", Message: "an invite or game already exists for this pair"}
	ErrSessionNotFound    = &Error{Code: "SESSION_NOT_FOUND", Message: "session no longer exists"}
	ErrTargetUnavailable  = &Error{Code: "TARGET_UNAVAILABLE", Message: "target is not reachable"}
	ErrIdentityResolution = &Error{Code: "IDENTITY_RESOLUTION", Message: "could not resolve identity"}
	ErrNotSearching       = &Error{Code: "NOT_SEARCHING", Message: "not in the matchmaking pool"}
	ErrInvalidValue       = &Error{Code: "INVALID_VALUE", Message: "malformed payload"}
	ErrInvalidState       = &Error{Code: "INVALID_STATE", Message: "not allowed in the current game state"}
	ErrForbidden          = &Error{Code: "FORBIDDEN", Message: "not allowed for this participant"}

	ErrAlreadyWatching = &Error{Code: "ALREADY_WATCHING", Message: "already spectating this game", kind: ErrDuplicateSession}
	ErrTargetNotInGame = &Error{Code: "TARGET_NOT_IN_GAME", Message: "target is not playing", kind: ErrTargetUnavailable}
)

// CodeOf returns the wire code for err, or INTERNAL for anything that is
// not a match.Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
