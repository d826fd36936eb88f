package worker

import (
	"net/http"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// Error definitions for the package.
// All errors are derived from ErrWorkerError.
var (
	// ErrWorkerError is the base error for the package.
	ErrWorkerError apperrors.Error = apperrors.New("booking worker error").
			SetStatusCode(http.StatusBadGateway).
			SetCode("worker-failed").
			SetKind(apperrors.KindWorker)

	// ErrDuplicateWorker is returned when a live worker already owns the session.
	ErrDuplicateWorker = ErrWorkerError.New("a worker is already running for this session").
				SetStatusCode(http.StatusConflict).
				SetCode("duplicate-worker").
				SetKind(apperrors.KindConcurrency)

	// ErrWorkerNotFound is returned when no live worker exists for the session.
	ErrWorkerNotFound = ErrWorkerError.New("no live worker for session")

	// ErrDeliveryFailed is returned when the answer could not reach the worker.
	ErrDeliveryFailed = ErrWorkerError.New("unable to deliver answer to worker")

	// ErrBookingFailed is returned when the provider refused or failed the booking.
	ErrBookingFailed = ErrWorkerError.New("booking failed")

	// ErrWorkerCrashed is returned when a worker exits without reporting a result.
	ErrWorkerCrashed = ErrWorkerError.New("worker exited without a result")

	// ErrWorkerCancelled is returned when a worker is terminated before finishing.
	ErrWorkerCancelled = ErrWorkerError.New("worker terminated")

	// ErrProtocol is returned for malformed or incompatible worker messages.
	ErrProtocol = ErrWorkerError.New("worker protocol error")

	// ErrLaunchFailed is returned when a worker cannot be started.
	ErrLaunchFailed = ErrWorkerError.New("unable to launch worker").
			SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidOptions is returned for unusable worker options.
	ErrInvalidOptions = ErrWorkerError.New("invalid worker options").
				SetStatusCode(http.StatusInternalServerError).
				SetCode("internal").
				SetKind(apperrors.KindInternal)
)
