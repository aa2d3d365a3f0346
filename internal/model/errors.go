package model

import (
	"errors"
	"fmt"
)

// FormatError reports a malformed or missing record field. It aborts the whole batch.
type FormatError struct {
	// Index is the zero-based position of the offending record, or -1 when
	// the batch itself could not be read.
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "format error"
	if e.Index >= 0 {
		msg += fmt.Sprintf(" in record %d", e.Index)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// TransportError reports an unreachable, failing or timed out dispatch endpoint.
type TransportError struct {
	DeviceID string
	Method   string
	Reason   string
	Err      error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("dispatch %s to device %s failed", e.Method, e.DeviceID)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// CleanupError reports a failed artifact delete. It never undoes a dispatch.
type CleanupError struct {
	ArtifactRef string
	Err         error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of artifact %s failed: %v", e.ArtifactRef, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// ProvisionError reports a database or collection creation failure other than
// "already exists".
type ProvisionError struct {
	Resource string // "database" or "collection"
	ID       string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s %s: %v", e.Resource, e.ID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// SecretError reports a missing or unauthorized secret, or a failing secret backend.
type SecretError struct {
	Name   string
	Reason string
	Err    error
}

func (e *SecretError) Error() string {
	msg := fmt.Sprintf("secret %q: %s", e.Name, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SecretError) Unwrap() error { return e.Err }

// IsFormatError reports whether err wraps a *FormatError.
func IsFormatError(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsCleanupError reports whether err wraps a *CleanupError.
func IsCleanupError(err error) bool {
	var target *CleanupError
	return errors.As(err, &target)
}

// IsProvisionError reports whether err wraps a *ProvisionError.
func IsProvisionError(err error) bool {
	var target *ProvisionError
	return errors.As(err, &target)
}

// IsSecretError reports whether err wraps a *SecretError.
func IsSecretError(err error) bool {
	var target *SecretError
	return errors.As(err, &target)
}
