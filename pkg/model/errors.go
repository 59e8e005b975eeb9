package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies model and generation failures.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindInvalidArgument
	KindInvalidPrompt
	KindNotFound
	KindNotSupported
	KindInternal
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidPrompt:
		return "invalid_prompt"
	case KindNotFound:
		return "not_found"
	case KindNotSupported:
		return "not_supported"
	case KindInternal:
		return "internal_error"
	case KindCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// Sentinels usable with errors.Is to test the kind of an *Error.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrInvalidPrompt   = &Error{Kind: KindInvalidPrompt}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrNotSupported    = &Error{Kind: KindNotSupported}
	ErrInternal        = &Error{Kind: KindInternal}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// Error is a classified model error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrNotFound) matches any
// not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation is reported as KindCanceled even when unclassified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindOther
}

// IsRetryable reports whether err is a transient backend fault. Only
// KindInternal errors are retried; unclassified errors fail safe.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindInternal
}

// KindFromStatus maps an HTTP status code returned by a backend to a kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindInvalidArgument
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusNotImplemented:
		return KindNotSupported
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= 500:
		return KindInternal
	default:
		return KindOther
	}
}

// ClassifyTransport classifies errors that carry no HTTP status: context
// cancellation, deadlines and network failures.
func ClassifyTransport(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindInternal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindInternal
	}
	return KindOther
}

// ProviderErrorKind enumerates provider level failures.
type ProviderErrorKind int

const (
	ProviderUnknown ProviderErrorKind = iota
	ProviderModelNotFound
	ProviderInvalidModelID
	ProviderRequestFailed
	ProviderUnsupportedModel
	ProviderModelError
)

// ProviderError is returned by Provider implementations.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return fmt.Sprintf("[%s] %s", e.Provider, msg)
}

// Unwrap exposes the underlying error, classifying provider kinds that
// have a model error equivalent.
func (e *ProviderError) Unwrap() error {
	switch e.Kind {
	case ProviderModelNotFound:
		return &Error{Kind: KindNotFound, Message: e.Message, Err: e.Err}
	case ProviderInvalidModelID:
		return &Error{Kind: KindInvalidArgument, Message: e.Message, Err: e.Err}
	case ProviderUnsupportedModel:
		return &Error{Kind: KindNotSupported, Message: e.Message, Err: e.Err}
	default:
		return e.Err
	}
}
