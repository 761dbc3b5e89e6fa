// Package domain contains the relay's core types and the errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrAdmissionRejected  = errors.New("connection rate-limited")
	ErrEventTooOld        = errors.New("event created_at is too far in the past")
	ErrEventTooNew        = errors.New("event created_at is too far in the future")
	ErrInvalidEventID     = errors.New("event id does not match its content")
	ErrInvalidSignature   = errors.New("event signature is not valid")
	ErrInvalidDelegation  = errors.New("event delegation is not valid")
	ErrStorageFailure     = errors.New("unable to persist event")
	ErrClientClosed       = errors.New("client is closed")
	ErrRelayClosed        = errors.New("relay is closed")
)

// RejectionError is returned when an event fails validation.
// Echo reports whether Reason may be sent back to the submitting client.
type RejectionError struct {
	Reason string
	Echo   bool
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("event rejected: %s", e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// NewRejection creates a RejectionError that is only logged.
func NewRejection(err error, reason string) *RejectionError {
	return &RejectionError{Reason: reason, Err: err}
}

// NewEchoedRejection creates a RejectionError whose reason is reported to the client.
func NewEchoedRejection(err error, reason string) *RejectionError {
	return &RejectionError{Reason: reason, Echo: true, Err: err}
}

// StorageError represents a failure of the event repository.
type StorageError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// NewStorageError creates a new StorageError.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
