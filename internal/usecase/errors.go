package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorUnknownAccount ErrorCode = "UNKNOWN_ACCOUNT"
	ErrorCaptchaFailed  ErrorCode = "CAPTCHA_FAILED"
	ErrorUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrorUnavailable    ErrorCode = "UNAVAILABLE"
)

// User-facing failure messages. They never carry upstream detail.
const (
	MsgMissingFields  = "Please fill in all required fields."
	MsgInvalidEmail   = "Please enter a valid email address."
	MsgUnknownAccount = "Please check your email address and try again."
	MsgCaptchaFailed  = "Sorry, we could not verify the CAPTCHA. Please try again."
	MsgTicketFailed   = "Sorry, we couldn't create your support ticket. Please try again."
	MsgUnavailable    = "Sorry, something went wrong. Please try again."
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// userMessage maps a classified failure to the text shown to the end user.
func userMessage(e *Error) string {
	switch e.Code {
	case ErrorInvalidInput:
		if e.Reason == "invalid_email" {
			return MsgInvalidEmail
		}
		return MsgMissingFields
	case ErrorUnknownAccount:
		return MsgUnknownAccount
	case ErrorCaptchaFailed:
		return MsgCaptchaFailed
	case ErrorUpstream:
		return MsgTicketFailed
	default:
		return MsgUnavailable
	}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
