package engine

import (
	stderrors "errors"
	"fmt"
)

// The taxonomy below maps one-to-one onto how failures are surfaced:
// validation, conflict, not-found and forbidden abort the unit of work and
// reach the caller; transient scan errors are recorded for retry and never
// surface; anything else is a system error.

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

func Conflictf(format string, args ...interface{}) error {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}

func IsConflict(err error) bool {
	var target *ConflictError
	return stderrors.As(err, &target)
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NotFoundf(format string, args ...interface{}) error {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return stderrors.As(err, &target)
}

type ForbiddenError struct {
	msg string
}

func (e *ForbiddenError) Error() string { return e.msg }

func Forbiddenf(format string, args ...interface{}) error {
	return &ForbiddenError{msg: fmt.Sprintf(format, args...)}
}

func IsForbidden(err error) bool {
	var target *ForbiddenError
	return stderrors.As(err, &target)
}

// TransientScanError marks an explorer failure during scanning. The
// transfer stays pending and the failure is recorded into its
// TransferInfo.
type TransientScanError struct {
	msg string
}

func (e *TransientScanError) Error() string { return e.msg }

func TransientScanf(format string, args ...interface{}) error {
	return &TransientScanError{msg: fmt.Sprintf(format, args...)}
}

func IsTransientScan(err error) bool {
	var target *TransientScanError
	return stderrors.As(err, &target)
}
