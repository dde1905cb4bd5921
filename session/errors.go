package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates the operation needs a credential and none is held.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSuperseded indicates a login response arrived after the session was
	// logged out, replaced by another login, or the call was abandoned, so it
	// was not committed.
	ErrSuperseded = errors.New("session changed while request was in flight")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")
)

// ProtocolError reports a transport response that is missing a required
// field or carries one that cannot be parsed.
type ProtocolError struct {
	Field  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func missingField(field string) *ProtocolError {
	return &ProtocolError{
		Field:  field,
		Reason: fmt.Sprintf("expected %s field, none supplied", field),
	}
}
