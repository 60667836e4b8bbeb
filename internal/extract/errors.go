package extract

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Every stage fails with exactly one
// of these; anything else reaching the worker counts as an internal fault.
type Kind string

const (
	KindImageNotFound      Kind = "ImageNotFound"
	KindRemoteFetchError   Kind = "RemoteFetchError"
	KindModelUnavailable   Kind = "ModelUnavailable"
	KindEmptyModelResponse Kind = "EmptyModelResponse"
	KindInvalidJSON        Kind = "InvalidJSON"
	KindNonObjectPayload   Kind = "NonObjectPayload"
)

// Error is a classified pipeline failure. It is terminal for the run that
// produced it.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func classified(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the classification of err and whether it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
