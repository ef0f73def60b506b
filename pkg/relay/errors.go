package relay

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRelayUnavailable marks transport-level failures: unreachable endpoint, timeouts,
	// non-2xx status codes.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrRelayMalformedResponse marks replies that do not match the ChatReply shape.
	ErrRelayMalformedResponse = errors.New("relay malformed response")
)

// UnavailableError carries the transport cause. It matches ErrRelayUnavailable.
type UnavailableError struct {
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("relay unavailable: chat endpoint returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("relay unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrRelayUnavailable, e.Err}
}

// MalformedResponseError keeps the raw payload for diagnosis. It matches ErrRelayMalformedResponse.
type MalformedResponseError struct {
	Reason string
	Raw    []byte
}

func (e *MalformedResponseError) Error() string {
	return "relay malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return ErrRelayMalformedResponse
}
