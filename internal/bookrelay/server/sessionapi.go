package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/orchestrator"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/common/httpx"
)

// Outcome values of successful responses.
const (
	OutcomeCreated  = "created"
	OutcomeReady    = "ready"
	OutcomePending  = "pending"
	OutcomeAccepted = "accepted"
)

// ResponseHandlerParam binds a handler to a method and path.
type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler httpx.RequestHandler
}

type sessionAPI struct {
	orch *orchestrator.Orchestrator
}

func (a *sessionAPI) router(r chi.Router) {
	handlers := []ResponseHandlerParam{
		{Method: http.MethodPost, Path: "/", Handler: a.createSession},
		{Method: http.MethodGet, Path: "/{id}/challenge/status", Handler: a.getChallengeStatus},
		{Method: http.MethodGet, Path: "/{id}/challenge", Handler: a.getChallenge},
		{Method: http.MethodPost, Path: "/{id}/answer", Handler: a.submitAnswer},
	}
	for _, h := range handlers {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
}

// CreateSessionRsp is returned when a session begins.
type CreateSessionRsp struct {
	Outcome   string `json:"outcome"`
	SessionID string `json:"sessionId"`
}

func (a *sessionAPI) createSession(r *http.Request) (*httpx.Response, error) {
	req := relaycommon.BookingRequest{}
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	id, err := a.orch.BeginSession(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/sessions/" + id,
		Response:   &CreateSessionRsp{Outcome: OutcomeCreated, SessionID: id},
	}, nil
}

// ChallengeStatusRsp reports whether the challenge can be fetched.
type ChallengeStatusRsp struct {
	Outcome     string `json:"outcome"`
	Ready       bool   `json:"ready"`
	ArtifactURL string `json:"artifactUrl,omitempty"`
}

func (a *sessionAPI) getChallengeStatus(r *http.Request) (*httpx.Response, error) {
	ready := a.orch.CheckChallengeReady(chi.URLParam(r, "id"))
	rsp := &ChallengeStatusRsp{Outcome: OutcomePending}
	if ready.Ready {
		rsp = &ChallengeStatusRsp{Outcome: OutcomeReady, Ready: true, ArtifactURL: ready.ArtifactURL}
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
		Headers:    httpx.NoCacheHeaders(),
	}, nil
}

func (a *sessionAPI) getChallenge(r *http.Request) (*httpx.Response, error) {
	return a.artifactResponse(chi.URLParam(r, "id"))
}

func (a *sessionAPI) artifactResponse(id string) (*httpx.Response, error) {
	data, err := a.orch.FetchArtifact(id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: "image/png",
		Headers:     httpx.NoCacheHeaders(),
		Body:        data,
	}, nil
}

// SubmitAnswerReq carries the solved challenge.
type SubmitAnswerReq struct {
	Answer string `json:"answer"`
}

// SubmitAnswerRsp is returned for an accepted answer. Pending is set while a
// detached worker is still booking, in which case the summary has no ticket.
type SubmitAnswerRsp struct {
	Outcome        string                     `json:"outcome"`
	BookingSummary relaycommon.BookingSummary `json:"bookingSummary"`
	Pending        bool                       `json:"pending,omitempty"`
}

func (a *sessionAPI) submitAnswer(r *http.Request) (*httpx.Response, error) {
	req := SubmitAnswerReq{}
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	id := chi.URLParam(r, "id")
	sub, err := a.orch.SubmitAnswer(r.Context(), id, req.Answer)
	if err != nil {
		log.Ctx(r.Context()).Info().Str("session_id", id).Str("error", err.Code()).Msg("answer not accepted")
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &SubmitAnswerRsp{
			Outcome:        OutcomeAccepted,
			BookingSummary: sub.Summary,
			Pending:        sub.Pending,
		},
	}, nil
}
