package hnap

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is wrapped by AuthenticationError when the device
	// rejects the login password.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	// ErrBadResponse is wrapped by AuthenticationError when a login response
	// cannot be decoded.
	ErrBadResponse = errors.New("bad response from device")

	// ErrNotAuthenticated is returned when per-call auth is requested without
	// session secrets.
	ErrNotAuthenticated = errors.New("no session established")
)

// AuthenticationError reports a handshake that ran but did not produce a
// session. Retrying with the same credentials cannot succeed.
type AuthenticationError struct {
	// Err is ErrInvalidCredentials or ErrBadResponse.
	Err error
	// Cause is the underlying decode failure, if any.
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hnap: authentication failed: %v: %v", e.Err, e.Cause)
	}
	return fmt.Sprintf("hnap: authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// TransportError reports a failed exchange with the device: network
// failure, timeout or an HTTP error status.
type TransportError struct {
	Action     string
	StatusCode int // 0 when no HTTP response was received
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("hnap: %s: device returned HTTP %d", e.Action, e.StatusCode)
	case e.Timeout:
		return fmt.Sprintf("hnap: %s: timed out: %v", e.Action, e.Err)
	default:
		return fmt.Sprintf("hnap: %s: %v", e.Action, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError reports a payload that does not have the structure
// expected for the action.
type MalformedResponseError struct {
	Action string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hnap: %s: malformed response: %s: %v", e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("hnap: %s: malformed response: %s", e.Action, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// isSessionSignal reports whether err is a failure that an expired session
// can produce.
func isSessionSignal(err error) bool {
	var te *TransportError
	var me *MalformedResponseError
	return errors.As(err, &te) || errors.As(err, &me)
}
