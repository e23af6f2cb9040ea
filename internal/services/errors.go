package services

import (
	"errors"
	"net/http"
)

// ErrorCode classifies a DealError
type ErrorCode string

const (
	CodeInvalidSender       ErrorCode = "INVALID_SENDER"
	CodeInvalidDealFormat   ErrorCode = "INVALID_DEAL_FORMAT"
	CodeInvalidDealIndex    ErrorCode = "INVALID_DEAL_INDEX"
	CodeDealNotFound        ErrorCode = "DEAL_NOT_FOUND"
	CodeDealFull            ErrorCode = "DEAL_FULL"
	CodeAlreadyJoined       ErrorCode = "ALREADY_JOINED"
	CodeInsertFailed        ErrorCode = "INSERT_FAILED"
	CodeCounterUpdateFailed ErrorCode = "COUNTER_UPDATE_FAILED"
	CodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	CodeMessagingFailed     ErrorCode = "MESSAGING_FAILED"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
)

// DealError is the error type returned by the join engine, the parser and the sweeper.
// Err keeps the underlying cause for logs; it is never shown to chat users.
type DealError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *DealError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *DealError) Unwrap() error { return e.Err }

// Is matches any DealError with the same code, so wrapped errors compare equal to the sentinels.
func (e *DealError) Is(target error) bool {
	var t *DealError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidSender       = &DealError{Code: CodeInvalidSender, Message: "sender must carry the channel prefix"}
	ErrInvalidDealFormat   = &DealError{Code: CodeInvalidDealFormat, Message: "deal identifier is neither an index nor a deal id"}
	ErrInvalidDealIndex    = &DealError{Code: CodeInvalidDealIndex, Message: "deal index is out of range"}
	ErrDealNotFound        = &DealError{Code: CodeDealNotFound, Message: "deal not found or not active"}
	ErrDealFull            = &DealError{Code: CodeDealFull, Message: "deal is full"}
	ErrAlreadyJoined       = &DealError{Code: CodeAlreadyJoined, Message: "already joined this deal"}
	ErrInsertFailed        = &DealError{Code: CodeInsertFailed, Message: "failed to record participant"}
	ErrCounterUpdateFailed = &DealError{Code: CodeCounterUpdateFailed, Message: "failed to update participant counter"}
	ErrStoreUnavailable    = &DealError{Code: CodeStoreUnavailable, Message: "deal store unavailable"}
	ErrMessagingFailed     = &DealError{Code: CodeMessagingFailed, Message: "failed to send message"}
	ErrInvalidInput        = &DealError{Code: CodeInvalidInput, Message: "invalid input"}
)

// newDealError copies a sentinel and attaches the cause
func newDealError(sentinel *DealError, cause error) *DealError {
	return &DealError{Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// InvalidInput builds an INVALID_INPUT error with a caller-facing message
func InvalidInput(msg string, cause error) *DealError {
	return &DealError{Code: CodeInvalidInput, Message: msg, Err: cause}
}

// CodeOf extracts the code of the first DealError in the chain, or STORE_UNAVAILABLE for anything else
func CodeOf(err error) ErrorCode {
	var de *DealError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeStoreUnavailable
}

// HTTPStatus maps an error to the status code the admin API responds with
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidSender, CodeInvalidDealFormat, CodeInvalidDealIndex, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeDealNotFound:
		return http.StatusNotFound
	case CodeDealFull, CodeAlreadyJoined:
		return http.StatusConflict
	case CodeMessagingFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIMessage is the message exposed by the admin API. Internal causes stay in the logs.
func APIMessage(err error) string {
	var de *DealError
	if errors.As(err, &de) && HTTPStatus(err) < http.StatusInternalServerError {
		return de.Message
	}
	return "internal server error"
}
