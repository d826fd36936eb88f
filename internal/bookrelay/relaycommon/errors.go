package relaycommon

import (
	"net/http"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

var (
	ErrInvalidBooking apperrors.Error = apperrors.New("invalid booking request").
		SetStatusCode(http.StatusBadRequest).
		SetCode("invalid-request").
		SetKind(apperrors.KindValidation).
		SetExpandError(true)
)
