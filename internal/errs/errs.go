// Package errs defines the failure kinds surfaced to callers of the relay and
// the agents.
//
// Kinds are matched with errors.Is against the exported sentinels:
//
//	if errors.Is(err, errs.ErrMissingCredential) {
//		// reveal the credential prompt
//	}
//
// or read with KindOf when the kind has to cross a process boundary.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindMissingCredential     Kind = "MissingCredential"
	KindRemoteService         Kind = "RemoteServiceError"
	KindInvalidResponseFormat Kind = "InvalidResponseFormat"
	KindNoEligibleTab         Kind = "NoEligibleTab"
	KindMissingVideoID        Kind = "MissingVideoId"
	KindInvalidatedContext    Kind = "InvalidatedContext"
)

// Sentinels for errors.Is. They compare equal to any *Error of the same kind.
var (
	ErrMissingCredential     = &Error{Kind: KindMissingCredential, Message: "Gemini API key not found. Please set it in the extension options."}
	ErrRemoteService         = &Error{Kind: KindRemoteService, Message: "remote analysis service error"}
	ErrInvalidResponseFormat = &Error{Kind: KindInvalidResponseFormat, Message: "Failed to parse the analysis from the AI response."}
	ErrNoEligibleTab         = &Error{Kind: KindNoEligibleTab, Message: "No YouTube or YouTube Kids tab found. Please open a video first."}
	ErrMissingVideoID        = &Error{Kind: KindMissingVideoID, Message: "Could not extract video ID from URL"}
	ErrInvalidatedContext    = &Error{Kind: KindInvalidatedContext, Message: "extension context invalidated, reload the page"}
)

type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // set for RemoteServiceError
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so wrapped instances compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// RemoteService builds a RemoteServiceError for a non-success status.
func RemoteService(statusCode int, detail string, cause error) *Error {
	return &Error{
		Kind:       KindRemoteService,
		Message:    fmt.Sprintf("Gemini API error: %d - %s", statusCode, detail),
		StatusCode: statusCode,
		Err:        cause,
	}
}

// InvalidResponse wraps a parse failure of the remote payload.
func InvalidResponse(cause error) *Error {
	return New(KindInvalidResponseFormat, ErrInvalidResponseFormat.Message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FromKind rebuilds an error received over the wire.
func FromKind(kind Kind, message string) error {
	if kind == "" {
		return errors.New(message)
	}
	return &Error{Kind: kind, Message: message}
}
