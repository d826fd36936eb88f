package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// Outcome values carried by every error body.
const (
	OutcomeRejected = "rejected" // the request was refused, 4xx
	OutcomeFailed   = "failed"   // the service could not complete the request, 5xx
)

// Error represents an HTTP error response with status code, wire code and description.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"description"`
	StatusCode  int    `json:"-"`
}

type errorRsp struct {
	Outcome     string `json:"outcome"`
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// Send writes the error response to w. A nil writer is ignored.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	outcome := OutcomeRejected
	if e.StatusCode >= http.StatusInternalServerError {
		outcome = OutcomeFailed
	}
	code := e.Code
	if code == "" {
		code = "internal"
	}
	rspJson, err := json.Marshal(&errorRsp{
		Outcome:     outcome,
		Error:       code,
		Description: e.Description,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

// Error returns the error description.
func (e *Error) Error() string {
	return e.Description
}

// SendError sends an application error as an HTTP error response.
// If the error is nil, no action is taken.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	httperror := &Error{
		StatusCode:  statusCode,
		Code:        err.Code(),
		Description: err.ErrorAll(),
	}
	httperror.Send(w)
}

// Common Errors

// ErrReqMethodNotSupported returns an error for unsupported HTTP methods.
func ErrReqMethodNotSupported() *Error {
	return &Error{
		Code:        "method-not-allowed",
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

// ErrApplicationError returns an error for application-level failures.
// If no message is provided, a default message is used.
func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{
		Code:        "internal",
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}

// ErrInvalidRequest returns an error for invalid request data.
// If no message is provided, a default message is used.
func ErrInvalidRequest(str ...string) *Error {
	s := "invalid request data or empty request values"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Code:        "invalid-request",
		Description: s,
		StatusCode:  http.StatusBadRequest,
	}
}

// ErrNotFound returns an error for absent resources.
func ErrNotFound(str ...string) *Error {
	s := "resource not found"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Code:        "not-found",
		Description: s,
		StatusCode:  http.StatusNotFound,
	}
}

// ErrRequestTimeout returns an error for request timeout.
func ErrRequestTimeout() *Error {
	return &Error{
		Code:        "timeout",
		Description: "request timed out",
		StatusCode:  http.StatusGatewayTimeout,
	}
}

// ErrRequestTooLarge returns an error when request body exceeds size limit.
func ErrRequestTooLarge(limit int64) *Error {
	return &Error{
		Code:        "request-too-large",
		Description: fmt.Sprintf("request body too large (limit: %d bytes)", limit),
		StatusCode:  http.StatusRequestEntityTooLarge,
	}
}
