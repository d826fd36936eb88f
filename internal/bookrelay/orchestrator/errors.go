package orchestrator

import (
	"net/http"

	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

var (
	// ErrOrchestrator is the base error for the package.
	ErrOrchestrator apperrors.Error = apperrors.New("session error").
			SetStatusCode(http.StatusInternalServerError)

	// ErrSessionNotFound is returned for unknown or already finished sessions.
	ErrSessionNotFound = sessionstore.ErrSessionNotFound

	// ErrSessionExpired is returned when the session outlived its time to live.
	ErrSessionExpired = ErrOrchestrator.New("session expired").
				SetStatusCode(http.StatusNotFound).
				SetCode("session-expired").
				SetKind(apperrors.KindNotFound)

	// ErrChallengeNotReady is returned while the challenge has not been issued.
	ErrChallengeNotReady = ErrOrchestrator.New("challenge not ready").
				SetStatusCode(http.StatusNotFound).
				SetCode("not-found").
				SetKind(apperrors.KindNotFound)

	// ErrInvalidAnswer is returned when the submitted answer does not match the challenge.
	ErrInvalidAnswer = ErrOrchestrator.New("invalid answer").
				SetStatusCode(http.StatusUnauthorized).
				SetCode("invalid-answer").
				SetKind(apperrors.KindValidation)

	// ErrEmptyAnswer is returned when no answer was submitted.
	ErrEmptyAnswer = ErrOrchestrator.New("answer is required").
			SetStatusCode(http.StatusBadRequest).
			SetCode("invalid-request").
			SetKind(apperrors.KindValidation)

	// ErrAlreadySubmitted is returned to every submit after the first accepted one.
	ErrAlreadySubmitted = ErrOrchestrator.New("answer already submitted").
				SetStatusCode(http.StatusConflict).
				SetCode("already-submitted").
				SetKind(apperrors.KindConcurrency)

	// ErrSubmitCancelled is returned when the caller gave up waiting for the booking.
	ErrSubmitCancelled = ErrOrchestrator.New("request cancelled while booking").
				SetStatusCode(http.StatusGatewayTimeout).
				SetCode("timeout")

	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = ErrOrchestrator.New("server is shutting down").
			SetStatusCode(http.StatusServiceUnavailable).
			SetCode("unavailable")
)
