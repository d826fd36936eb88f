package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// InProcessOptions configure the goroutine strategy.
type InProcessOptions struct {
	TerminateGrace string `mapstructure:"terminate_grace"` // how long Terminate waits for the goroutine
}

func decodeInProcessOptions(m map[string]any) (InProcessOptions, apperrors.Error) {
	var opts InProcessOptions
	if err := mapstructure.Decode(m, &opts); err != nil {
		return opts, ErrInvalidOptions.Err(err)
	}
	if opts.TerminateGrace != "" {
		if _, err := config.ParseDuration(opts.TerminateGrace); err != nil {
			return opts, ErrInvalidOptions.Msg("invalid terminate_grace: " + err.Error())
		}
	}
	return opts, nil
}

func (o InProcessOptions) grace() time.Duration {
	if d, err := config.ParseDuration(o.TerminateGrace); err == nil {
		return d
	}
	return 5 * time.Second
}

type inProcessWorker struct {
	*handle
	request relaycommon.BookingRequest
	answers   chan string
	delivered atomic.Bool
	cancel    context.CancelFunc
}

type inProcess struct {
	provider provider.Provider
	grace    time.Duration

	mu      sync.Mutex
	workers map[string]*inProcessWorker
}

// NewInProcess returns a supervisor that runs each worker on a goroutine.
func NewInProcess(p provider.Provider, opts InProcessOptions) Supervisor {
	return &inProcess{
		provider: p,
		grace:    opts.grace(),
		workers:  make(map[string]*inProcessWorker),
	}
}

func (ip *inProcess) Awaits() bool { return true }

func (ip *inProcess) Live() int {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return len(ip.workers)
}

func (ip *inProcess) Launch(ctx context.Context, s sessionstore.Session) (Handle, apperrors.Error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if _, exists := ip.workers[s.ID]; exists {
		return nil, ErrDuplicateWorker
	}

	wctx, cancel := lifetime(ctx, s)
	w := &inProcessWorker{
		handle:  newHandle(s.ID),
		request: s.Request.Clone(),
		answers: make(chan string, 1),
		cancel:  cancel,
	}
	ip.workers[s.ID] = w
	go ip.run(wctx, w)
	return w, nil
}

func (ip *inProcess) run(ctx context.Context, w *inProcessWorker) {
	logger := log.With().Str("session_id", w.sessionID).Str("worker", "inprocess").Logger()
	var (
		res *provider.Result
		err error
	)
	// The worker leaves the live set before Done is closed.
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("worker panicked")
			res, err = nil, ErrWorkerCrashed.Msg("worker panicked")
		}
		w.cancel()
		ip.mu.Lock()
		if ip.workers[w.sessionID] == w {
			delete(ip.workers, w.sessionID)
		}
		ip.mu.Unlock()
		w.finish(res, err)
	}()

	w.markReady()
	logger.Debug().Msg("waiting for answer")

	var answer string
	select {
	case answer = <-w.answers:
	case <-ctx.Done():
		err = ErrWorkerCancelled.Err(ctx.Err())
		return
	}

	logger.Info().Msg("answer received, calling provider")
	res, err = outcome(ip.provider.Book(ctx, provider.Request{
		SessionID: w.sessionID,
		Booking:   w.request,
		Answer:    answer,
	}))
	if err != nil {
		logger.Error().Err(err).Msg("booking failed")
	} else {
		logger.Info().Interface("ticket", res.Ticket).Msg("booking completed")
	}
}

func (ip *inProcess) DeliverAnswer(ctx context.Context, sessionID, answer string) apperrors.Error {
	ip.mu.Lock()
	w, ok := ip.workers[sessionID]
	ip.mu.Unlock()
	if !ok {
		return ErrWorkerNotFound
	}
	select {
	case <-w.done:
		return ErrDeliveryFailed.Msg("worker already exited")
	default:
	}
	if err := ctx.Err(); err != nil {
		return ErrDeliveryFailed.Err(err)
	}
	if !w.delivered.CompareAndSwap(false, true) {
		return ErrDeliveryFailed.Msg("answer already delivered")
	}
	w.answers <- answer
	return nil
}

func (ip *inProcess) Terminate(sessionID string) {
	ip.mu.Lock()
	w, ok := ip.workers[sessionID]
	ip.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	if !waitDone(w.handle, ip.grace) {
		log.Warn().Str("session_id", sessionID).Msg("in-process worker did not stop within grace period")
	}
}
