package bridge

import (
	"fmt"
	"net/http"
)

// Kind classifies why a bridge request was rejected.
type Kind int

const (
	KindTransport Kind = iota
	KindAuth
	KindValidation
	KindUnavailable
	KindDispatch
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	case KindDispatch:
		return "dispatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a terminal request failure carrying the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var (
	errMethodNotAllowed = &Error{Kind: KindTransport, Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
	errQueryCredential  = &Error{Kind: KindAuth, Status: http.StatusBadRequest, Message: "credentials must be sent in a header, not the URL"}
	errMissingToken     = &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: "missing token"}
	errInvalidToken     = &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: "invalid token"}
	errNoSession        = &Error{Kind: KindUnavailable, Status: http.StatusServiceUnavailable, Message: "no live session for this account"}
	errContentType      = &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: "content type must be application/json"}
)

// ErrInvalidPayload is the single aggregate validation failure.
var ErrInvalidPayload = &Error{
	Kind:    KindValidation,
	Status:  http.StatusBadRequest,
	Message: "chatId, messageId, senderName, text and timestamp are required",
}

func parseError(err error) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: "invalid JSON body", Err: err}
}

func dispatchError(err error) *Error {
	return &Error{Kind: KindDispatch, Status: http.StatusInternalServerError, Message: err.Error()}
}
