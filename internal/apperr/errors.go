// Package apperr defines the error taxonomy surfaced by production actions.
package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Code classifies an action failure.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidState    Code = "INVALID_STATE"
	CodePolicyViolation Code = "POLICY_VIOLATION"
	CodeConflict        Code = "CONFLICT"
	CodeDatabase        Code = "DATABASE_ERROR"
)

// PostgreSQL integrity violation codes we translate.
const (
	pgErrForeignKeyViolation = "23503"
	pgErrUniqueViolation     = "23505"
	pgErrNotNullViolation    = "23502"
	pgErrCheckViolation      = "23514"
)

// Sentinels for errors.Is. Two errors are equal when their codes match.
var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrInvalidState    = &Error{Code: CodeInvalidState}
	ErrPolicyViolation = &Error{Code: CodePolicyViolation}
	ErrConflict        = &Error{Code: CodeConflict}
	ErrDatabase        = &Error{Code: CodeDatabase}
)

// Error is returned synchronously from every failed action.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NotFound reports a missing entity.
func NotFound(entity string, id any) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s does not exist", entity),
		Detail:  fmt.Sprintf("%s with id %v does not exist", entity, id),
	}
}

// InvalidState reports an action attempted from a state that forbids it.
func InvalidState(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// PolicyViolation reports a business rule rejecting the action.
func PolicyViolation(format string, args ...any) *Error {
	return &Error{Code: CodePolicyViolation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports an action blocked by other open work.
func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// FromDB translates a persistence error. Errors that are already classified
// pass through unchanged.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Code: CodeNotFound, Message: op, Detail: "record not found", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return &Error{Code: CodeConflict, Message: op, Detail: pgErr.Detail, Err: err}
		case pgErrForeignKeyViolation:
			return &Error{Code: CodeNotFound, Message: op, Detail: pgErr.Detail, Err: err}
		case pgErrNotNullViolation, pgErrCheckViolation:
			return &Error{Code: CodePolicyViolation, Message: op, Detail: pgErr.Message, Err: err}
		}
	}

	return &Error{Code: CodeDatabase, Message: op, Detail: err.Error(), Err: err}
}
