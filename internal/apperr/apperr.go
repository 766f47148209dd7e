// Package apperr is the pipeline's error taxonomy. Each error carries its
// kind and whether a retry could help, decided where the failure happened.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindUpstream       Kind = "upstream_error"
	KindDownload       Kind = "download_error"
	KindMetadata       Kind = "metadata_error"
	KindComposition    Kind = "composition_error"
	KindDelivery       Kind = "delivery_error"
	KindAuthentication Kind = "authentication_error"
	KindNotFound       Kind = "not_found"
)

// Error is the concrete error type for every taxonomy kind.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.Validation("", ""))
// style checks work; prefer IsKind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsRetryable reports the retry flag of the first *Error in the chain.
// Errors outside the taxonomy are treated as retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return err != nil
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Upstream(code string, retryable bool, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: "provider request failed", Retryable: retryable, Err: err}
}

func Download(message string, err error) *Error {
	return &Error{Kind: KindDownload, Code: "download_failed", Message: message, Retryable: true, Err: err}
}

func Metadata(message string) *Error {
	return &Error{Kind: KindMetadata, Code: "probe_failed", Message: message}
}

func Composition(err error) *Error {
	return &Error{Kind: KindComposition, Code: "composition_failed", Message: "composition failed", Retryable: true, Err: err}
}

func Delivery(retryable bool, err error) *Error {
	return &Error{Kind: KindDelivery, Code: "delivery_failed", Message: "webhook delivery failed", Retryable: retryable, Err: err}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: "invalid_signature", Message: message}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: what + " not found"}
}
