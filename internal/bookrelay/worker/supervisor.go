// Package worker runs one booking worker per session. A worker waits for the
// verification answer, calls the booking provider once and reports the result.
// Workers run either as goroutines (inprocess) or as child processes speaking a
// line-delimited JSON protocol on stdin/stdout (process).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// Handle observes one worker.
type Handle interface {
	SessionID() string
	// Ready is closed once the worker is waiting for its answer.
	Ready() <-chan struct{}
	// Done is closed once the worker has exited.
	Done() <-chan struct{}
	// Result is valid after Done. The error is set whenever the booking did not succeed.
	Result() (*provider.Result, error)
}

// Supervisor owns the workers of all sessions. At most one live worker exists per session.
type Supervisor interface {
	// Launch starts a worker bound to the session. Its lifetime is bounded by the
	// session expiry, not by ctx.
	Launch(ctx context.Context, s sessionstore.Session) (Handle, apperrors.Error)
	// DeliverAnswer hands the verification answer to the session's worker.
	DeliverAnswer(ctx context.Context, sessionID, answer string) apperrors.Error
	// Terminate stops the session's worker and waits for it to exit. It is a no-op
	// when no worker is live.
	Terminate(sessionID string)
	// Awaits reports whether callers should wait on the handle for the booking result.
	Awaits() bool
	// Live returns the number of running workers.
	Live() int
}

// New builds the supervisor selected by cfg.
func New(cfg *config.WorkerConfig, p provider.Provider) (Supervisor, apperrors.Error) {
	switch cfg.Strategy {
	case config.StrategyInProcess, "":
		opts, err := decodeInProcessOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return NewInProcess(p, opts), nil
	case config.StrategyProcess:
		opts, err := DecodeProcessOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return NewProcess(opts)
	default:
		return nil, ErrInvalidOptions.Msg("unsupported worker strategy: " + cfg.Strategy)
	}
}

// handle is the Handle shared by both strategies.
type handle struct {
	sessionID string
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	result    *provider.Result
	err       error
}

func newHandle(sessionID string) *handle {
	return &handle{
		sessionID: sessionID,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (h *handle) SessionID() string      { return h.sessionID }
func (h *handle) Ready() <-chan struct{} { return h.ready }
func (h *handle) Done() <-chan struct{}  { return h.done }

func (h *handle) Result() (*provider.Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return nil, ErrWorkerError.Msg("worker still running")
	}
}

func (h *handle) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

// finish records the outcome and closes Done. Only the first call has an effect.
func (h *handle) finish(res *provider.Result, err error) {
	h.doneOnce.Do(func() {
		h.result = res
		h.err = err
		close(h.done)
	})
}

func (h *handle) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// outcome converts a provider answer into the handle result. Anything other than a
// successful booking becomes ErrBookingFailed carrying the provider's reason.
func outcome(res *provider.Result, err error) (*provider.Result, error) {
	if err != nil {
		return nil, ErrBookingFailed.MsgErr("provider unavailable: "+err.Error(), err)
	}
	if res == nil {
		return nil, ErrBookingFailed.Msg("provider returned no result")
	}
	if !res.Succeeded() {
		reason := res.Reason
		if reason == "" {
			reason = "provider declined the booking"
		}
		return res, ErrBookingFailed.Msg(reason)
	}
	return res, nil
}

// lifetime returns the context a worker for s runs under.
func lifetime(ctx context.Context, s sessionstore.Session) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if s.ExpiresAt.IsZero() {
		return context.WithCancel(base)
	}
	return context.WithDeadline(base, s.ExpiresAt)
}

// waitDone waits up to grace for h to finish.
func waitDone(h *handle, grace time.Duration) bool {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}
