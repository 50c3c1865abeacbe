/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("valentine not found")
	ErrClaimConflict  = errors.New("valentine was already claimed by someone else")
	ErrAlreadyDecided = errors.New("valentine was already answered differently")
	ErrNotReceiver    = errors.New("only the receiver may answer this valentine")
)

// PersistenceError is a backend or network failure. The operation did not
// apply and may be retried by the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a *PersistenceError unless it is nil or already
// one of the package's domain errors.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}

	var pe *PersistenceError
	if errors.As(err, &pe) || isDomain(err) {
		return err
	}

	return &PersistenceError{Op: op, Err: err}
}

func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func isDomain(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClaimConflict) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrNotReceiver) ||
		errors.As(err, &ve)
}
