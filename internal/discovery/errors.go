package discovery

import (
	"errors"
	"fmt"
)

// ErrorKind classifies discovery failures.
type ErrorKind string

const (
	// KindAdvertise is reported when the local service cannot be built or
	// registered with the mDNS engine.
	KindAdvertise ErrorKind = "advertise"

	// KindAddressResolution is reported when a resolved service has no
	// usable IPv4 address.
	KindAddressResolution ErrorKind = "address_resolution"

	// KindDiscoveryFailure is reported when browsing cannot be started or
	// the engine reports a browse error.
	KindDiscoveryFailure ErrorKind = "discovery_failure"

	// KindIO covers local interface and socket failures.
	KindIO ErrorKind = "io"
)

// Sentinel errors, one per kind. Use errors.Is to match an *Error against them.
var (
	ErrAdvertise          = errors.New("mdns advertise failed")
	ErrAddressResolution  = errors.New("address resolution failed")
	ErrDiscoveryFailure   = errors.New("discovery failed")
	ErrIO                 = errors.New("network i/o failed")
	ErrInvalidServiceType = errors.New("invalid service type")
)

// Error is the error type returned by the discovery service.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAdvertise:
		return e.Kind == KindAdvertise
	case ErrAddressResolution:
		return e.Kind == KindAddressResolution
	case ErrDiscoveryFailure:
		return e.Kind == KindDiscoveryFailure
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

// KindOf returns the kind of err if it wraps an *Error, or "" otherwise.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func (k ErrorKind) String() string {
	return string(k)
}
