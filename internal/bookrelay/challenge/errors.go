package challenge

import (
	"net/http"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

var (
	// ErrChallengeError is the base error for challenge rendering and storage.
	ErrChallengeError apperrors.Error = apperrors.New("challenge error").
				SetStatusCode(http.StatusInternalServerError).
				SetCode("challenge-failed").
				SetKind(apperrors.KindResource)

	// ErrRender is returned when the CAPTCHA image cannot be produced.
	ErrRender apperrors.Error = ErrChallengeError.New("unable to render challenge")

	// ErrArtifactIO is returned when an artifact cannot be written or read.
	ErrArtifactIO apperrors.Error = ErrChallengeError.New("challenge artifact i/o failed")

	// ErrArtifactNotFound is returned when no artifact exists for a session.
	ErrArtifactNotFound apperrors.Error = ErrChallengeError.New("challenge artifact not found").
				SetStatusCode(http.StatusNotFound).
				SetCode("not-found").
				SetKind(apperrors.KindNotFound)
)
