package users

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the workflows matches exactly one of these with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("identity already exists")
	ErrAuthentication = errors.New("invalid credentials")
	ErrNotFound       = errors.New("identity not found")
	ErrInternal       = errors.New("internal error")
)

// Store-level sentinels; workflows translate these into error kinds.
var (
	ErrIdentityNotFound  = errors.New("users: record not found")
	ErrDuplicateIdentity = errors.New("users: unique constraint violated")
)

const (
	opRegister        = "users.register"
	opAuthenticate    = "users.authenticate"
	opProfile         = "users.profile"
	opUpdateProfile   = "users.update_profile"
	opSetOnline       = "users.set_online"
	opCountUsers      = "users.count"
	opRegisterAdmin   = "users.register_admin"
	opServiceNew      = "users.service.new"
	opAdminServiceNew = "users.admin_service.new"
)

// ServiceError carries a stable "<operation>.<reason>" code, the error kind and an
// optional cause. Message is safe to show to API callers; the cause is not.
type ServiceError struct {
	code    string
	kind    error
	message string
	err     error
}

func (e *ServiceError) Error() string {
	text := e.code
	if e.message != "" {
		text = fmt.Sprintf("%s: %s", text, e.message)
	}
	if e.err != nil {
		text = fmt.Sprintf("%s: %v", text, e.err)
	}
	return text
}

func (e *ServiceError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Code returns the stable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error kind sentinel.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Message returns the caller-safe description.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(operation, reason string, kind error, message string, cause error) error {
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		kind:    kind,
		message: message,
		err:     cause,
	}
}
