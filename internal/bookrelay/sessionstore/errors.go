package sessionstore

import (
	"net/http"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

var (
	// ErrSessionNotFound is returned for unknown, removed or expired sessions.
	ErrSessionNotFound apperrors.Error = apperrors.New("session not found").
		SetStatusCode(http.StatusNotFound).
		SetCode("not-found").
		SetKind(apperrors.KindNotFound)
)
