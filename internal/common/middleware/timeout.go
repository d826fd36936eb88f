package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/common/httpx"
)

// TimeoutHeader reports the request budget to the client.
const TimeoutHeader = "X-Bookrelay-Timeout"

// SetTimeout bounds request handling by timeout. The handler runs on its own goroutine
// against a buffered writer; on expiry a 504 error body is sent instead and whatever
// the handler writes afterwards is discarded.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			w.Header().Set(TimeoutHeader, timeout.String())
			tw := newTimeoutWriter()

			done := make(chan struct{})
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
					close(done)
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				select {
				case p := <-panicked:
					log.Ctx(ctx).Error().Msgf("panic in handler: %v", p)
					httpx.ErrApplicationError().Send(w)
				default:
					tw.flushTo(w)
				}
			case <-ctx.Done():
				tw.abandon()
				log.Ctx(ctx).Error().Dur("timeout", timeout).Msg("request timed out")
				httpx.ErrRequestTimeout().Send(w)
			}
		})
	}
}
