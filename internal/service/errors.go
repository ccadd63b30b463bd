package service

import (
	"errors"
	"fmt"
)

// Code tags why a façade call failed.
type Code string

const (
	CodeInvalidUserID     Code = "invalid_user_id"
	CodeInvalidRole       Code = "invalid_role"
	CodeInvalidContent    Code = "invalid_content"
	CodeInvalidKey        Code = "invalid_key"
	CodePersistenceFailed Code = "persistence_failed"
)

// Error is the uniform failure returned by every Service method.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports whether the failure is the caller's fault.
func (e *Error) Validation() bool {
	return e.Code != CodePersistenceFailed
}

// CodeOf returns the Code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func invalid(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func persistence(msg string, err error) *Error {
	return &Error{Code: CodePersistenceFailed, Message: msg, Err: err}
}
