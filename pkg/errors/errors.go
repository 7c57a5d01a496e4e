// Package errors defines the error taxonomy shared by jobs, the scheduler and
// the document engines.
//
// Every error kind has a constructor and an Is* predicate. Predicates use
// errors.As so they keep working through fmt.Errorf("%w") wrapping.
package errors

import (
	"errors"
	"fmt"
)

// InvalidDocumentError is returned when the engine rejects the bytes or the format.
type InvalidDocumentError struct {
	URI string
	Err error
}

func (e *InvalidDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid document %q: %v", e.URI, e.Err)
	}
	return fmt.Sprintf("invalid document %q", e.URI)
}

func (e *InvalidDocumentError) Unwrap() error { return e.Err }

func NewInvalidDocumentError(uri string, err error) *InvalidDocumentError {
	return &InvalidDocumentError{URI: uri, Err: err}
}

func IsInvalidDocumentError(err error) bool {
	var e *InvalidDocumentError
	return errors.As(err, &e)
}

// EncryptedDocumentError means the document needs a (different) password.
// Callers are expected to collect credentials and rerun the same load job.
type EncryptedDocumentError struct {
	URI           string
	WrongPassword bool
}

func (e *EncryptedDocumentError) Error() string {
	if e.WrongPassword {
		return fmt.Sprintf("document %q: wrong password", e.URI)
	}
	return fmt.Sprintf("document %q is encrypted", e.URI)
}

func NewEncryptedDocumentError(uri string) *EncryptedDocumentError {
	return &EncryptedDocumentError{URI: uri}
}

func NewWrongPasswordError(uri string) *EncryptedDocumentError {
	return &EncryptedDocumentError{URI: uri, WrongPassword: true}
}

func IsEncryptedDocumentError(err error) bool {
	var e *EncryptedDocumentError
	return errors.As(err, &e)
}

// IOError wraps a read, write or transfer failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err}
}

func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// UnsupportedOperationError reports a capability the backend does not have.
// For auxiliary data it is turned into an empty result by the caller.
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %q is not supported by this document", e.Op)
}

func NewUnsupportedOperationError(op string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Op: op}
}

func IsUnsupportedOperationError(err error) bool {
	var e *UnsupportedOperationError
	return errors.As(err, &e)
}

// CancelledError is the terminal error of a cancelled job. It is not meant
// to be shown to users.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "job cancelled" }

func NewCancelledError() *CancelledError {
	return &CancelledError{}
}

func IsCancelledError(err error) bool {
	var e *CancelledError
	return errors.As(err, &e)
}

// UserMessage returns the message to show for a failed load, save or print.
// Engine messages are kept verbatim; a generic fallback covers empty ones.
func UserMessage(err error) string {
	if err == nil || IsCancelledError(err) {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	switch {
	case IsEncryptedDocumentError(err):
		return "The document is encrypted and needs a password."
	case IsInvalidDocumentError(err):
		return "The document could not be opened."
	case IsIOError(err):
		return "The file could not be read or written."
	default:
		return "The operation failed."
	}
}

// NotFoundError is returned by lookups of stored records.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func NewJobNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Resource: "job", ID: id}
}

func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}
