// Package apperr defines the error kinds surfaced by the consultation ledger
// and inventory engine. Every rejection carries a stable Kind so callers can
// map it to their own result convention (HTTP status, CLI exit code, ...).
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind identifies a class of failure.
type Kind string

const (
	InsufficientStock Kind = "insufficient_stock"
	UnknownProcedure  Kind = "unknown_procedure"
	UnknownItem       Kind = "unknown_item"
	InvalidState      Kind = "invalid_state"
	NotFound          Kind = "not_found"
	InvalidInput      Kind = "invalid_input"
	TransactionFault  Kind = "transaction_fault"
)

// Error is an application error with a stable kind and a human readable message.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Fault wraps an underlying storage error. Errors that already carry a kind
// are returned untouched so rejections are never reclassified as faults.
func Fault(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: TransactionFault, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or TransactionFault for errors that were
// never classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return TransactionFault
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Message returns the user facing message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InsufficientStock, UnknownProcedure, UnknownItem, InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into the echo error returned by handlers. The body
// carries the stable kind next to the message.
func ToHTTP(err error) *echo.HTTPError {
	kind := KindOf(err)
	return echo.NewHTTPError(HTTPStatus(kind), map[string]string{
		"kind":    string(kind),
		"message": Message(err),
	}).SetInternal(err)
}
