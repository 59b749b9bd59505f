package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeAuthentication = "authentication_failed"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeDeliveryFailed = "delivery_failed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal"
)

// Human readable messages sent to clients.
const (
	MsgTokenRequired        = "Authentication token required"
	MsgInvalidToken         = "Invalid access token"
	MsgInvalidContact       = "Invalid contact ID"
	MsgInvalidConversation  = "Invalid conversation ID"
	MsgEmptyContent         = "Message content cannot be empty"
	MsgContentTooLong       = "Message content is too long"
	MsgRecipientNotFound    = "Recipient not found"
	MsgMessageNotFound      = "Message not found"
	MsgNotInRoom            = "Not a member of this room"
	MsgDeliveryFailed       = "Message could not be delivered, please retry"
	MsgUnavailable          = "Service temporarily unavailable"
	MsgMissingTarget        = "Either contactId or conversationId is required"
	MsgOwnMessageReadMarker = "Cannot mark own message as read"
)

var errConnectionClosed = errors.New("connection closed")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

func authenticationError(msg string, cause error) *CoreError {
	return &CoreError{Code: ErrCodeAuthentication, Message: msg, Err: cause}
}

func authorizationError(msg string) *CoreError {
	return coreError(ErrCodeUnauthorized, msg)
}

func validationError(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg)
}

func notFoundError(msg string) *CoreError {
	return coreError(ErrCodeNotFound, msg)
}

func deliveryError(cause error) *CoreError {
	return &CoreError{Code: ErrCodeDeliveryFailed, Message: MsgDeliveryFailed, Err: cause}
}

func unavailableError(cause error) *CoreError {
	return &CoreError{Code: ErrCodeUnavailable, Message: MsgUnavailable, Err: cause}
}

// ErrorCode returns the CoreError code carried by err, or "" if none.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// asCoreError converts any error into a CoreError suitable for clients.
func asCoreError(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return &CoreError{Code: ErrCodeInternal, Message: "internal error", Err: err}
}
