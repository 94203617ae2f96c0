// Package apperror carries the error taxonomy shared by the booking core and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindSeatConflict     Kind = "SEAT_CONFLICT"
	KindSignatureInvalid Kind = "SIGNATURE_INVALID"
	KindAmountMismatch   Kind = "AMOUNT_MISMATCH"
	KindNotFound         Kind = "NOT_FOUND"
	KindTransient        Kind = "TRANSIENT"
	KindInternal         Kind = "INTERNAL"
)

// Machine readable codes returned to clients.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeSeatLockedByOther     = "SEAT_LOCKED_BY_OTHER"
	CodeSeatAlreadySold       = "SEAT_ALREADY_SOLD"
	CodeSeatNotFound          = "SEAT_NOT_FOUND"
	CodeShowtimeNotFound      = "SHOWTIME_NOT_FOUND"
	CodeBookingNotFound       = "BOOKING_NOT_FOUND"
	CodeBookingNotCancellable = "BOOKING_NOT_CANCELLABLE"
	CodeCustomerNotFound      = "CUSTOMER_NOT_FOUND"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeAmountMismatch        = "AMOUNT_MISMATCH"
	CodeUnknownGateway        = "UNKNOWN_GATEWAY"
	CodeGatewayUnavailable    = "GATEWAY_UNAVAILABLE"
	CodeDatabaseUnavailable   = "DATABASE_UNAVAILABLE"
	CodeInternal              = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
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

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidationFailed, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func SeatConflict(code, message string) *Error {
	return New(KindSeatConflict, code, message)
}

func SignatureInvalid(message string) *Error {
	return New(KindSignatureInvalid, CodeInvalidSignature, message)
}

func AmountMismatch(expected, got int64) *Error {
	return New(KindAmountMismatch, CodeAmountMismatch, fmt.Sprintf("expected amount %d, gateway reported %d", expected, got))
}

// FromDB classifies a storage error. Missing rows become NotFound, everything else is Transient
// because core mutations either commit fully or roll back.
func FromDB(err error, notFoundCode, message string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Wrap(KindNotFound, notFoundCode, message, err)
	}
	return Wrap(KindTransient, CodeDatabaseUnavailable, message, err)
}

func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
