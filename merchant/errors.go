package merchant

import (
	"errors"
	"fmt"
)

// error taxonomy for remote interactions.
// transient errors are retried with resubscription and re-fetch.
// validation errors are rejected locally before any remote call.
// conflict errors roll back the optimistic state.
// a missing singleton row is resolved internally, never surfaced.

type TransientError struct {
	Op  string
	Err error
}

func (self *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %s", self.Op, self.Err)
}

func (self *TransientError) Unwrap() error {
	return self.Err
}

func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

type ValidationError struct {
	Field   string
	Message string
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", self.Field, self.Message)
}

type ConflictError struct {
	Message string
}

func (self *ConflictError) Error() string {
	if self.Message == "" {
		return "state changed, please retry"
	}
	return self.Message
}

func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

type NotFoundError struct {
	Table string
}

func (self *NotFoundError) Error() string {
	return fmt.Sprintf("no %s record found", self.Table)
}

// maps a remote write result to an error value
func writeResultError(result *WriteResult) error {
	if result == nil || result.Error == nil {
		return nil
	}
	if result.Error.Conflict {
		return &ConflictError{Message: result.Error.Message}
	}
	return errors.New(result.Error.Message)
}
