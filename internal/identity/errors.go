package identity

import (
	"errors"
	"strings"
)

// Provider error codes, in the form clients already match on.
const (
	CodeWrongPassword     = "auth/wrong-password"
	CodeUserNotFound      = "auth/user-not-found"
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidEmail      = "auth/invalid-email"
	CodePopupClosed       = "auth/popup-closed-by-user"
	CodeInvalidActionCode = "auth/invalid-action-code"
	CodeInvalidSession    = "auth/invalid-session"
	CodeNotConfigured     = "auth/operation-not-allowed"
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message + " (" + e.Code + ")"
}

func newError(code, msg string) *Error { return &Error{Code: code, Message: msg} }

// CodeOf returns the provider code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Describe turns a sign-in or sign-up failure into the text shown to users.
// Unknown errors keep their own message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, CodeWrongPassword), strings.Contains(msg, CodeUserNotFound):
		return "Invalid email or password."
	case strings.Contains(msg, CodeEmailInUse):
		return "This email is already registered. Please sign in instead."
	case strings.Contains(msg, CodeWeakPassword):
		return "Password should be at least 6 characters."
	case strings.Contains(msg, CodeInvalidEmail):
		return "Please provide a valid email address."
	case strings.Contains(msg, "popup-closed-by-user"):
		return "Sign in was cancelled."
	}
	return msg
}

// DescribeReset is Describe for the password reset flow.
func DescribeReset(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, CodeUserNotFound):
		return "No account found with this email address."
	case strings.Contains(msg, CodeInvalidEmail):
		return "Please provide a valid email address."
	case strings.Contains(msg, CodeInvalidActionCode):
		return "This reset link is invalid or has expired."
	}
	return msg
}
