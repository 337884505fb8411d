package capture

import (
	"errors"
	"fmt"
)

// Kind is the medium a session captures.
type Kind string

const (
	KindAudio  Kind = "audio"
	KindCanvas Kind = "canvas"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindCanvas
}

// Status is the state of a capture session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusStopped    Status = "stopped"
	StatusProcessing Status = "processing"
	StatusSaved      Status = "saved"
	StatusError      Status = "error"
)

// transitions lists the allowed moves out of each status.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusRecording},
	StatusRecording:  {StatusStopped},
	StatusStopped:    {StatusProcessing, StatusIdle},
	StatusProcessing: {StatusSaved, StatusError},
	StatusSaved:      {StatusIdle},
	StatusError:      {StatusProcessing, StatusIdle},
}

// CanTransition reports whether a session may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether a submit has finished.
func (s Status) Terminal() bool {
	return s == StatusSaved || s == StatusError
}

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when an operation does not apply to the current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrBusy is returned while a submit is in flight.
	ErrBusy = errors.New("session is processing")
	// ErrEmptyBlob is returned by Submit when nothing was captured.
	ErrEmptyBlob = errors.New("nothing was captured")
	// ErrWrongKind is returned for an operation meant for the other medium.
	ErrWrongKind = errors.New("operation does not apply to this session kind")
	// ErrBlobTooLarge is returned when captured data exceeds the upload limit.
	ErrBlobTooLarge = errors.New("captured data exceeds the upload limit")
	// ErrAbandoned is returned by Submit when the session was removed or
	// replaced before the remote call finished.
	ErrAbandoned = errors.New("session was abandoned")
	// ErrSourceBusy is returned when the microphone is held by another session.
	ErrSourceBusy = errors.New("capture source is in use")
	// ErrPermissionDenied matches every PermissionError.
	ErrPermissionDenied = errors.New("permission denied")
)

// PermissionError reports that a capture source could not be acquired.
type PermissionError struct {
	Source string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s access denied: %v", e.Source, e.Err)
	}
	return e.Source + " access denied"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPermissionDenied) true.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Message is the alert shown to the user.
func (e *PermissionError) Message() string {
	return "Unable to access " + e.Source + ". Please check permissions."
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
