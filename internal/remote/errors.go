package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote failure.
type Kind string

const (
	// KindNetwork means the request never produced an HTTP response.
	KindNetwork Kind = "network"
	// KindStatus means the service answered with a non-2xx status.
	KindStatus Kind = "status"
	// KindRejected means the service answered with success=false.
	KindRejected Kind = "rejected"
	// KindDecode means the response body was not the expected JSON.
	KindDecode Kind = "decode"
)

// Error is returned by every remote call that did not yield a usable result.
type Error struct {
	Service    string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: HTTP error %d: %s", e.Service, e.StatusCode, e.Message)
	case KindRejected:
		return fmt.Sprintf("%s: request rejected: %s", e.Service, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s failure: %v", e.Service, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s failure: %s", e.Service, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rejected builds the error for a response that carried success=false.
func Rejected(service, message string) *Error {
	if message == "" {
		message = "the service reported a failure"
	}
	return &Error{Service: service, Kind: KindRejected, Message: message}
}

// IsKind reports whether err is a remote Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// Message converts any error from a remote call into text fit for the user.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var re *Error
	if !errors.As(err, &re) {
		return err.Error()
	}

	switch re.Kind {
	case KindNetwork:
		return "Could not reach the " + re.Service + " service. Check your connection and try again."
	case KindStatus:
		if re.StatusCode == 413 {
			return "The file is too large for the " + re.Service + " service."
		}
		return fmt.Sprintf("The %s service returned an error (HTTP %d). Please try again.", re.Service, re.StatusCode)
	case KindRejected:
		return re.Message
	case KindDecode:
		return "The " + re.Service + " service sent an unexpected response."
	default:
		return re.Error()
	}
}
