package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindUnauthenticated       ErrorKind = "UNAUTHENTICATED"
	KindForbidden             ErrorKind = "FORBIDDEN"
	KindCounterClosed         ErrorKind = "COUNTER_CLOSED"
	KindBadLocation           ErrorKind = "BAD_LOCATION"
	KindProductUnavailable    ErrorKind = "PRODUCT_UNAVAILABLE"
	KindTooYoung              ErrorKind = "TOO_YOUNG"
	KindNoAgeOnFile           ErrorKind = "NO_AGE_ON_FILE"
	KindAlcoholBanned         ErrorKind = "ALCOHOL_BANNED"
	KindCounterBanned         ErrorKind = "COUNTER_BANNED"
	KindInsufficientFunds     ErrorKind = "INSUFFICIENT_FUNDS"
	KindDepositLimitExceeded  ErrorKind = "DEPOSIT_LIMIT_EXCEEDED"
	KindInvalidStudentCardUID ErrorKind = "INVALID_STUDENT_CARD_UID"
	KindInvalidBankSignature  ErrorKind = "INVALID_BANK_SIGNATURE"
	KindBasketNotFound        ErrorKind = "BASKET_NOT_FOUND"
	KindBasketAmountMismatch  ErrorKind = "BASKET_AMOUNT_MISMATCH"
	KindValidation            ErrorKind = "VALIDATION"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindConflict              ErrorKind = "CONFLICT"
)

// Error is the error type returned by the service layer. Two errors match
// under errors.Is when their kinds are equal.
type Error struct {
	Kind    ErrorKind         `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

var (
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrCounterClosed         = &Error{Kind: KindCounterClosed, Message: "counter is closed"}
	ErrBadLocation           = &Error{Kind: KindBadLocation, Message: "counter token mismatch"}
	ErrProductUnavailable    = &Error{Kind: KindProductUnavailable, Message: "product unavailable"}
	ErrTooYoung              = &Error{Kind: KindTooYoung, Message: "customer is too young for this product"}
	ErrNoAgeOnFile           = &Error{Kind: KindNoAgeOnFile, Message: "customer has no date of birth on file"}
	ErrAlcoholBanned         = &Error{Kind: KindAlcoholBanned, Message: "customer is banned from alcohol"}
	ErrCounterBanned         = &Error{Kind: KindCounterBanned, Message: "customer is banned from counters"}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrDepositLimitExceeded  = &Error{Kind: KindDepositLimitExceeded, Message: "deposit return limit exceeded"}
	ErrInvalidStudentCardUID = &Error{Kind: KindInvalidStudentCardUID, Message: "invalid student card uid"}
	ErrInvalidBankSignature  = &Error{Kind: KindInvalidBankSignature, Message: "invalid bank signature"}
	ErrBasketNotFound        = &Error{Kind: KindBasketNotFound, Message: "basket not found"}
	ErrBasketAmountMismatch  = &Error{Kind: KindBasketAmountMismatch, Message: "basket amount mismatch"}
	ErrValidation            = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict              = &Error{Kind: KindConflict, Message: "conflict"}
	ErrAccountBusy           = &Error{Kind: KindConflict, Message: "the account was updated by another operation, please retry"}
)

// KindOf returns the kind carried by err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// UserFacing reports whether the error should be shown inline on a counter
// page rather than aborting the request.
func (k ErrorKind) UserFacing() bool {
	switch k {
	case KindProductUnavailable, KindTooYoung, KindNoAgeOnFile, KindAlcoholBanned,
		KindCounterBanned, KindInsufficientFunds, KindDepositLimitExceeded,
		KindInvalidStudentCardUID, KindValidation, KindNotFound, KindCounterClosed, KindConflict:
		return true
	default:
		return false
	}
}
