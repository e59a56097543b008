package bqp

import (
	"errors"
	"fmt"
)

type (
	AbortKind   int
	AbortReason int

	// AbortError ends a handshake. Kind tells whether we detected the
	// problem and aborted, or the peer aborted first.
	AbortError struct {
		Kind   AbortKind
		Reason AbortReason
		Err    error
	}
)

const (
	LocalAbort AbortKind = iota + 1
	RemoteAbort
)

const (
	ReasonPeerAborted AbortReason = iota + 1
	ReasonBadKey
	ReasonBadCommitment
	ReasonBadConfirmation
	ReasonProtocolError
)

var ErrRecordTooLong = errors.New("record too long")

func (k AbortKind) String() string {
	switch k {
	case LocalAbort:
		return "local"
	case RemoteAbort:
		return "remote"
	}
	return fmt.Sprintf("AbortKind(%d)", int(k))
}

func (r AbortReason) String() string {
	switch r {
	case ReasonPeerAborted:
		return "peer aborted"
	case ReasonBadKey:
		return "invalid public key"
	case ReasonBadCommitment:
		return "public key does not match commitment"
	case ReasonBadConfirmation:
		return "confirmation failed"
	case ReasonProtocolError:
		return "protocol error"
	}
	return fmt.Sprintf("AbortReason(%d)", int(r))
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("handshake aborted (%s): %s", e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Err }

func localAbort(reason AbortReason, err error) *AbortError {
	return &AbortError{Kind: LocalAbort, Reason: reason, Err: err}
}

// AsAbort extracts an AbortError from err's chain.
func AsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
