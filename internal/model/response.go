package model

import (
	"fmt"
	"net/http"
)

// ErrorInfo is the error envelope shared by the registration service and its clients.
type ErrorInfo struct {
	Code       int    `json:"code"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("[%d] %s (status %d)", e.Code, e.Message, e.StatusCode)
}

// ErrorResponse wraps ErrorInfo the way it travels on the wire.
type ErrorResponse struct {
	Error *ErrorInfo `json:"error"`
}

const (
	CodeBadRequest        = 40000
	CodeInvalidCredential = 40101
	CodeTokenExpired      = 40142
	CodeForbidden         = 40300
	CodeClientIDMismatch  = 40012
	CodeNotFound          = 40400
	CodeInternal          = 50000
)

// NewError builds an ErrorInfo with the given code.
func NewError(statusCode, code int, msg string) *ErrorInfo {
	return &ErrorInfo{Code: code, StatusCode: statusCode, Message: msg}
}

// BadRequest is a shortcut for a 400 ErrorInfo.
func BadRequest(msg string) *ErrorInfo {
	return NewError(http.StatusBadRequest, CodeBadRequest, msg)
}
