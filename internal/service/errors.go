package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCoverLetterNotFound indicates no cover letter exists for the entry id.
	ErrCoverLetterNotFound = errors.New("cover letter not found")
	// ErrUnauthorized indicates the actor's role or department may not perform the operation.
	ErrUnauthorized = errors.New("actor is not allowed to perform this action")
	// ErrInvalidTransition indicates the stage preconditions for the transition do not hold.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrTransient indicates a timeout or connectivity failure. Nothing was changed and the call may be retried.
	ErrTransient = errors.New("temporary failure, please retry")
	// ErrDuplicateCoverLetter indicates a cover letter with the same entry id already exists.
	ErrDuplicateCoverLetter = errors.New("cover letter already exists")
)

// IsTransient reports whether err is a timeout or connectivity failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStoreError wraps store failures that are safe to retry with ErrTransient.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
