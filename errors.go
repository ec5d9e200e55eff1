package authcore

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Errno is a structured error carrying a stable code plus the HTTP and gRPC
// status a transport layer should map it to.
//
// Code format: AABBCCC where AA is the service (30 = authcore), BB the
// category and CCC the sequence within the category.
type Errno struct {
	Code     int        `json:"code"`
	HTTP     int        `json:"-"`
	GRPCCode codes.Code `json:"-"`
	Message  string     `json:"message"`

	cause error
}

const serviceAuthcore = 30

const (
	categoryRequest    = 1
	categoryPermission = 3
	categoryConflict   = 5
	categoryInternal   = 7
	categoryConfig     = 12
)

func makeCode(category, seq int) int {
	return serviceAuthcore*100000 + category*1000 + seq
}

var (
	// ErrValidationFailed is returned when a create or update receives a
	// missing or malformed field.
	ErrValidationFailed = &Errno{
		Code:     makeCode(categoryRequest, 4),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "validation failed",
	}

	// ErrConflict is returned when an identifier already exists in a tenant.
	ErrConflict = &Errno{
		Code:     makeCode(categoryConflict, 0),
		HTTP:     http.StatusConflict,
		GRPCCode: codes.AlreadyExists,
		Message:  "resource already exists",
	}

	// ErrAssignmentLimit is returned when a role already has its maximum
	// number of active assignees.
	ErrAssignmentLimit = &Errno{
		Code:     makeCode(categoryConflict, 1),
		HTTP:     http.StatusConflict,
		GRPCCode: codes.ResourceExhausted,
		Message:  "role assignment limit reached",
	}

	// ErrProtectedRole is returned when deleting a system role.
	ErrProtectedRole = &Errno{
		Code:     makeCode(categoryPermission, 0),
		HTTP:     http.StatusForbidden,
		GRPCCode: codes.PermissionDenied,
		Message:  "system roles cannot be deleted",
	}

	// ErrStore wraps failures of a storage backend.
	ErrStore = &Errno{
		Code:     makeCode(categoryInternal, 0),
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "storage failure",
	}

	ErrInvalidConfig = &Errno{
		Code:     makeCode(categoryConfig, 0),
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "invalid configuration",
	}
)

func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Errno) Unwrap() error { return e.cause }

// Is reports whether target is an Errno with the same code, so
// errors.Is(err, ErrConflict) holds for any message variant.
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of e with a new message.
func (e *Errno) WithMessage(msg string) *Errno {
	dup := *e
	dup.Message = msg
	return &dup
}

func (e *Errno) WithMessagef(format string, args ...any) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of e wrapping err.
func (e *Errno) WithCause(err error) *Errno {
	dup := *e
	dup.cause = err
	return &dup
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidationFailed) }

// IsConflict reports whether err is a duplicate-identifier failure.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// errMessage returns the Errno message without its category prefix.
func errMessage(err error) string {
	var errno *Errno
	if errors.As(err, &errno) {
		return errno.Message
	}
	return err.Error()
}

// storeErr wraps backend errors that are not already an Errno.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var errno *Errno
	if errors.As(err, &errno) {
		return err
	}
	return ErrStore.WithCause(err)
}
