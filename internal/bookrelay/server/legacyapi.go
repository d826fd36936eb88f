package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bookrelay/bookrelay/internal/bookrelay/orchestrator"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/common/httpx"
)

// Routes and response shapes used by the existing booking front end.

const legacyCaptchaPrefix = "/captchas/"

func legacyCaptchaURL(id string) string {
	return legacyCaptchaPrefix + id + ".png"
}

func (a *sessionAPI) legacyRouter(r chi.Router) {
	handlers := []ResponseHandlerParam{
		{Method: http.MethodPost, Path: "/send-booking", Handler: a.legacySendBooking},
		{Method: http.MethodGet, Path: "/check-captcha", Handler: a.legacyCheckCaptcha},
		{Method: http.MethodPost, Path: "/submit-captcha", Handler: a.legacySubmitCaptcha},
	}
	for _, h := range handlers {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
}

// LegacyBookingReq accepts the front end's selectedClass as an alias of class.
type LegacyBookingReq struct {
	relaycommon.BookingRequest
	SelectedClass string `json:"selectedClass,omitempty"`
}

// LegacyBookingRsp carries the new session id.
type LegacyBookingRsp struct {
	Outcome   string `json:"outcome"`
	SessionID string `json:"sessionId"`
}

func (a *sessionAPI) legacySendBooking(r *http.Request) (*httpx.Response, error) {
	req := LegacyBookingReq{}
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.Class == "" {
		req.Class = req.SelectedClass
	}
	id, err := a.orch.BeginSession(r.Context(), req.BookingRequest)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &LegacyBookingRsp{Outcome: OutcomeCreated, SessionID: id},
	}, nil
}

// LegacyCaptchaRsp reports challenge availability.
type LegacyCaptchaRsp struct {
	Outcome          string `json:"outcome"`
	CaptchaAvailable bool   `json:"captchaAvailable"`
	CaptchaURL       string `json:"captchaUrl,omitempty"`
}

func (a *sessionAPI) legacyCheckCaptcha(r *http.Request) (*httpx.Response, error) {
	id := r.URL.Query().Get("sessionId")
	if a.orch.CheckChallengeReady(id).Ready {
		return &httpx.Response{
			StatusCode: http.StatusOK,
			Response: &LegacyCaptchaRsp{
				Outcome:          OutcomeReady,
				CaptchaAvailable: true,
				CaptchaURL:       legacyCaptchaURL(id),
			},
			Headers: httpx.NoCacheHeaders(),
		}, nil
	}
	status := http.StatusOK
	if _, err := a.orch.Session(id); err != nil {
		status = http.StatusNotFound
	}
	return &httpx.Response{
		StatusCode: status,
		Response:   &LegacyCaptchaRsp{Outcome: OutcomePending},
		Headers:    httpx.NoCacheHeaders(),
	}, nil
}

func (a *sessionAPI) getLegacyCaptcha(r *http.Request) (*httpx.Response, error) {
	file := chi.URLParam(r, "file")
	id, ok := strings.CutSuffix(file, ".png")
	if !ok {
		return nil, httpx.ErrNotFound("no such challenge " + file)
	}
	return a.artifactResponse(id)
}

// LegacySubmitReq is the front end's answer submission.
type LegacySubmitReq struct {
	SessionID    string `json:"sessionId"`
	CaptchaInput string `json:"captchaInput"`
}

// LegacySubmitRsp is returned when the booking went through.
type LegacySubmitRsp struct {
	Outcome string                     `json:"outcome"`
	Message string                     `json:"message"`
	Booking relaycommon.BookingSummary `json:"booking"`
	Pending bool                       `json:"pending,omitempty"`
}

func (a *sessionAPI) legacySubmitCaptcha(r *http.Request) (*httpx.Response, error) {
	req := LegacySubmitReq{}
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, httpx.ErrInvalidRequest("Invalid session")
	}
	sub, err := a.orch.SubmitAnswer(r.Context(), req.SessionID, req.CaptchaInput)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return nil, httpx.ErrInvalidRequest("Invalid session")
	case errors.Is(err, orchestrator.ErrInvalidAnswer):
		return nil, &httpx.Error{
			StatusCode:  http.StatusUnauthorized,
			Code:        orchestrator.ErrInvalidAnswer.Code(),
			Description: "Invalid CAPTCHA",
		}
	default:
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &LegacySubmitRsp{
			Outcome: OutcomeAccepted,
			Message: "Booking Successful!",
			Booking: sub.Summary,
			Pending: sub.Pending,
		},
	}, nil
}
