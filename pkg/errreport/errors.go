package errreport

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the caller recovers from them.
type Kind int

const (
	KindUnknown Kind = iota
	KindSignaling
	KindNegotiation
	KindUpstream
	KindPermission
	KindMalformed
	KindAudio
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindSignaling:
		return "signaling"
	case KindNegotiation:
		return "negotiation"
	case KindUpstream:
		return "upstream"
	case KindPermission:
		return "permission"
	case KindMalformed:
		return "malformed"
	case KindAudio:
		return "audio"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a retry or fresh command can clear the failure.
// Negotiation failures need a brand-new session and permission failures need the user.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNegotiation, KindPermission:
		return false
	default:
		return true
	}
}

// OpError attaches a kind and the failing operation to an error.
type OpError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, otherwise an *OpError.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of the first OpError in the chain.
func KindOf(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindUnknown
}
