package internal

import (
	"errors"
	"fmt"
)

// Application close codes sent to a rejected websocket peer.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

var (
	// ErrUnauthenticated means the credential was missing, malformed, unknown or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the identity is not a member of the target workspace.
	ErrForbidden = errors.New("forbidden")
	// ErrMalformedMessage is returned for inbound frames that are not {"message": "<text>"}.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDeliveryFailure is returned when a payload cannot be queued to a connection.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrHubClosed is returned by Join once the hub has been shut down.
	ErrHubClosed = errors.New("hub closed")
)

// RejectionError describes why a handshake was refused and which close code
// the peer receives.
type RejectionError struct {
	Reason error
	Code   int
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (close %d)", e.Reason, e.Code)
	}
	return fmt.Sprintf("%v: %s (close %d)", e.Reason, e.Detail, e.Code)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

func unauthenticated(detail string) *RejectionError {
	return &RejectionError{Reason: ErrUnauthenticated, Code: CloseUnauthenticated, Detail: detail}
}

func forbidden(detail string) *RejectionError {
	return &RejectionError{Reason: ErrForbidden, Code: CloseForbidden, Detail: detail}
}
