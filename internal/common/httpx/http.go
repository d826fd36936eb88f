// Package httpx provides HTTP request/response handling utilities.
// It includes support for JSON and binary responses, error translation from
// apperrors, and request body parsing with size limits.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// MaxRequestBodySize bounds every JSON request body accepted by GetRequestData.
const MaxRequestBodySize int64 = 64 << 10

// GetRequestData parses the JSON request body into data.
// Only POST and PUT are supported.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrInvalidRequest("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize))
	if err := dec.Decode(data); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrRequestTooLarge(MaxRequestBodySize)
		}
		return ErrInvalidRequest("unable to parse request data: " + err.Error())
	}
	return nil
}

// Response represents an HTTP response with configurable status code,
// content type and extra headers. Binary payloads go in Body; everything
// else is serialized from Response as JSON.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// RequestHandler defines a function type for handling HTTP requests.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp wraps a RequestHandler to provide standardized HTTP response handling,
// including error translation and content type management.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			SendAnyError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		for k, v := range rsp.Headers {
			w.Header().Set(k, v)
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		default:
			w.Header().Set("Content-Type", rsp.ContentType)
			if rsp.StatusCode == http.StatusCreated && len(location) > 0 {
				w.Header().Set("Location", location[0])
			}
			w.WriteHeader(rsp.StatusCode)
			if _, err := w.Write(rsp.Body); err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("unable to write response body")
			}
		}
	})
}

// SendAnyError writes err as an error response, translating apperrors.Error
// into its status code and wire code.
func SendAnyError(w http.ResponseWriter, err error) {
	var httperror *Error
	if errors.As(err, &httperror) {
		httperror.Send(w)
		return
	}
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		SendError(w, appErr)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}

// NoCacheHeaders returns the headers that stop clients and proxies from caching
// a response.
func NoCacheHeaders() map[string]string {
	return map[string]string{
		"Cache-Control": "no-store, no-cache, must-revalidate, max-age=0",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
}
