// Package orchestrator drives booking sessions from creation to cleanup.
//
// A session begins with a validated booking request. The orchestrator renders the
// challenge, stores its artifact and launches the session's worker before the session
// id is handed out, so clients never observe a half-built session. The submitted answer
// is checked under the session lock and relayed to the worker. Whichever path moves a
// session into a terminal state (worker result, rejected answer, failed delivery, expiry
// sweep) owns the cleanup of its artifact, worker and store entry.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/challenge"
	"github.com/bookrelay/bookrelay/internal/bookrelay/eventbus"
	"github.com/bookrelay/bookrelay/internal/bookrelay/metrics"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

// Options tune session handling.
type Options struct {
	TTL            time.Duration
	SweepInterval  time.Duration
	DefaultMobile  string
	DefaultPayment string
	// ArtifactURL returns the client-facing location of a session's challenge.
	ArtifactURL func(sessionID string) string
}

func (o *Options) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.ArtifactURL == nil {
		o.ArtifactURL = func(id string) string { return "/sessions/" + id + "/challenge" }
	}
}

// Orchestrator owns every live booking session.
type Orchestrator struct {
	store     *sessionstore.Store
	generator challenge.Generator
	artifacts *challenge.ArtifactStore
	workers   worker.Supervisor
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
	opts      Options

	tracked  sync.Map // session id -> *tracked
	answered sync.Map // session id -> expiry, for sessions whose answer was accepted
	watchers sync.WaitGroup
	closing  atomic.Bool

	stopOnce sync.Once
	stopChan chan struct{}
	sweeper  sync.WaitGroup
}

// tracked follows the worker of one live session until the session is closed.
type tracked struct {
	h      worker.Handle
	once   sync.Once
	closed chan struct{}
	final  sessionstore.Session // valid once closed
}

func (t *tracked) close(final sessionstore.Session) {
	t.once.Do(func() {
		t.final = final
		close(t.closed)
	})
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithEventBus publishes session lifecycle events on bus.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMetrics records session metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over the given components.
func New(store *sessionstore.Store, gen challenge.Generator, artifacts *challenge.ArtifactStore,
	workers worker.Supervisor, opts Options, options ...Option) *Orchestrator {
	opts.setDefaults()
	o := &Orchestrator{
		store:     store,
		generator: gen,
		artifacts: artifacts,
		workers:   workers,
		opts:      opts,
		stopChan:  make(chan struct{}),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.bus == nil {
		o.bus = eventbus.New()
	}
	return o
}

// Readiness reports whether a session's challenge can be fetched.
type Readiness struct {
	Ready       bool
	ArtifactURL string
}

// Submission is the result of an accepted answer. Pending is set when the booking
// continues in a detached worker and Summary carries no ticket yet.
type Submission struct {
	Summary relaycommon.BookingSummary
	Pending bool
}

// BeginSession validates req, renders its challenge and launches its worker. The
// returned session is ready for CheckChallengeReady. On any failure nothing of the
// session is left behind.
func (o *Orchestrator) BeginSession(ctx context.Context, req relaycommon.BookingRequest) (string, apperrors.Error) {
	if o.closing.Load() {
		return "", ErrShuttingDown
	}
	req = req.Clone()
	req.Normalize()
	req.ApplyDefaults(o.opts.DefaultMobile, o.opts.DefaultPayment)
	if ves := req.Validate(); len(ves) > 0 {
		return "", relaycommon.ErrInvalidBooking.Err(ves)
	}

	s := o.store.Create(req, o.opts.TTL)
	logger := log.Ctx(ctx).With().Str("session_id", s.ID).Logger()
	o.metrics.SessionBegun()
	o.publish(s, eventbus.KindCreated, "")

	start := time.Now()
	artifact, answer, err := o.generator.Generate()
	o.metrics.ObserveRender(time.Since(start))
	if err != nil {
		return "", o.abort(logger, s, asAppError(err, challenge.ErrRender))
	}
	path, err := o.artifacts.Save(s.ID, artifact)
	if err != nil {
		return "", o.abort(logger, s, asAppError(err, challenge.ErrArtifactIO))
	}
	issued, err := o.store.Update(s.ID, func(cur *sessionstore.Session) error {
		if cur.State != sessionstore.StateCreated || cur.Challenge.Answer != "" {
			return ErrOrchestrator.Msg("challenge already issued")
		}
		cur.Challenge = sessionstore.Challenge{Answer: answer, ArtifactPath: path}
		return nil
	})
	if err != nil {
		return "", o.abort(logger, s, asAppError(err, ErrOrchestrator))
	}

	h, werr := o.workers.Launch(ctx, issued)
	if werr != nil {
		return "", o.abort(logger, s, werr)
	}
	o.tracked.Store(s.ID, &tracked{h: h, closed: make(chan struct{})})

	ready, err := o.store.Update(s.ID, func(cur *sessionstore.Session) error {
		if cur.State != sessionstore.StateCreated {
			return ErrOrchestrator.Msg("unexpected state " + string(cur.State))
		}
		cur.State = sessionstore.StateChallengeReady
		return nil
	})
	if err != nil {
		return "", o.abort(logger, s, asAppError(err, ErrOrchestrator))
	}

	o.publish(ready, eventbus.KindChallengeReady, "")
	o.watchers.Add(1)
	go o.watch(h)
	o.updateGauges()
	logger.Info().Str("train", ready.Request.Train).Msg("session ready")
	return ready.ID, nil
}

// abort releases everything BeginSession acquired for s.
func (o *Orchestrator) abort(logger zerolog.Logger, s sessionstore.Session, cause apperrors.Error) apperrors.Error {
	logger.Error().Err(cause).Str("detail", cause.ErrorAll()).Msg("unable to begin session")
	_, lookupErr := o.store.Get(s.ID)
	owned := lookupErr == nil // false once the sweep claimed the session
	o.workers.Terminate(s.ID)
	if err := o.artifacts.Remove(s.ID); err != nil {
		logger.Error().Err(err).Msg("unable to remove artifact")
	}
	o.store.Delete(s.ID)
	s.State = sessionstore.StateFailed
	if t, ok := o.tracked.LoadAndDelete(s.ID); ok {
		t.(*tracked).close(s)
	}
	if owned {
		o.metrics.SessionFinished(string(sessionstore.StateFailed))
		o.publish(s, eventbus.KindFailed, cause.Error())
	}
	o.updateGauges()
	return cause
}

// CheckChallengeReady reports whether the challenge of sessionID can be fetched.
// Unknown, finished and expired sessions are simply not ready.
func (o *Orchestrator) CheckChallengeReady(sessionID string) Readiness {
	s, err := o.store.Get(sessionID)
	if err != nil || !s.State.ChallengeIssued() || s.Expired(o.store.Now()) {
		return Readiness{}
	}
	return Readiness{Ready: true, ArtifactURL: o.opts.ArtifactURL(sessionID)}
}

// FetchArtifact returns the challenge image of sessionID.
func (o *Orchestrator) FetchArtifact(sessionID string) ([]byte, apperrors.Error) {
	s, err := o.store.Get(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if s.Expired(o.store.Now()) {
		return nil, ErrSessionExpired
	}
	if !s.State.ChallengeIssued() {
		if s.State == sessionstore.StateCreated {
			return nil, ErrChallengeNotReady
		}
		return nil, ErrSessionNotFound
	}
	data, err := o.artifacts.Load(sessionID)
	if err != nil {
		return nil, asAppError(err, challenge.ErrArtifactIO)
	}
	return data, nil
}

// SubmitAnswer checks answer against the session's challenge and relays it to the
// worker. Only the first matching answer is accepted; a wrong answer ends the session.
// With a supervisor that awaits results the booking outcome is returned, otherwise
// the submission is acknowledged and the worker's result is recorded later.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, answer string) (*Submission, apperrors.Error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}
	logger := log.Ctx(ctx).With().Str("session_id", sessionID).Logger()

	rejected := false
	s, err := o.store.Update(sessionID, func(cur *sessionstore.Session) error {
		if cur.Expired(o.store.Now()) {
			return ErrSessionExpired
		}
		switch {
		case cur.State == sessionstore.StateCreated:
			return ErrChallengeNotReady
		case cur.State == sessionstore.StateSubmitted, cur.State.IsTerminal():
			return ErrAlreadySubmitted
		}
		if !strings.EqualFold(answer, cur.Challenge.Answer) {
			rejected = true
			cur.State = sessionstore.StateFailed
			cur.Outcome.Reason = ErrInvalidAnswer.Error()
			return nil
		}
		cur.State = sessionstore.StateSubmitted
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			if _, ok := o.answered.Load(sessionID); ok {
				return nil, ErrAlreadySubmitted
			}
		}
		return nil, asAppError(err, ErrOrchestrator)
	}

	if rejected {
		logger.Info().Msg("answer rejected")
		o.publish(s, eventbus.KindAnswerRejected, "")
		o.cleanup(s)
		return nil, ErrInvalidAnswer
	}
	o.answered.Store(sessionID, s.ExpiresAt)
	o.publish(s, eventbus.KindSubmitted, "")

	v, ok := o.tracked.Load(sessionID)
	if !ok {
		// The sweep closed the session right after the answer was accepted.
		return nil, ErrSessionExpired
	}
	t := v.(*tracked)

	if werr := o.workers.DeliverAnswer(ctx, sessionID, answer); werr != nil {
		logger.Error().Err(werr).Msg("unable to relay answer")
		o.fail(sessionID, werr.Error())
		return nil, werr
	}

	if !o.workers.Awaits() {
		logger.Info().Msg("answer relayed to detached worker")
		return &Submission{Summary: relaycommon.Summarize(s.Request, nil), Pending: true}, nil
	}

	wctx, cancel := context.WithDeadline(ctx, s.ExpiresAt)
	defer cancel()
	select {
	case <-t.closed:
	case <-wctx.Done():
		if !o.store.Now().Before(s.ExpiresAt) {
			return nil, ErrSessionExpired
		}
		return nil, ErrSubmitCancelled.Err(ctx.Err())
	}

	switch t.final.State {
	case sessionstore.StateCompleted:
		logger.Info().Interface("ticket", t.final.Outcome.Ticket).Msg("booking completed")
		return &Submission{Summary: relaycommon.Summarize(s.Request, t.final.Outcome.Ticket)}, nil
	case sessionstore.StateExpired:
		return nil, ErrSessionExpired
	}
	if o.closing.Load() {
		return nil, ErrShuttingDown
	}
	if _, rerr := t.h.Result(); rerr != nil {
		return nil, asAppError(rerr, worker.ErrWorkerError)
	}
	return nil, worker.ErrBookingFailed.Msg(t.final.Outcome.Reason)
}

// watch follows a worker until it exits and records its result.
func (o *Orchestrator) watch(h worker.Handle) {
	defer o.watchers.Done()
	select {
	case <-h.Ready():
		s, err := o.store.Update(h.SessionID(), func(cur *sessionstore.Session) error {
			if cur.State != sessionstore.StateChallengeReady {
				return errSkip
			}
			cur.State = sessionstore.StateAwaitingAnswer
			return nil
		})
		if err == nil {
			o.publish(s, eventbus.KindAwaitingAnswer, "")
		}
	case <-h.Done():
	}
	<-h.Done()
	o.finalize(h)
}

var errSkip = errors.New("transition not applicable")

// finalize moves the session of a finished worker into its terminal state and
// cleans up, unless another path already closed the session.
func (o *Orchestrator) finalize(h worker.Handle) {
	res, werr := h.Result()
	s, err := o.store.Update(h.SessionID(), func(cur *sessionstore.Session) error {
		if cur.State.IsTerminal() {
			return errSkip
		}
		switch {
		case werr == nil:
			cur.State = sessionstore.StateCompleted
			if res != nil {
				cur.Outcome.Ticket = res.Ticket
			}
		case cur.Expired(o.store.Now()):
			cur.State = sessionstore.StateExpired
			cur.Outcome.Reason = werr.Error()
		default:
			cur.State = sessionstore.StateFailed
			cur.Outcome.Reason = werr.Error()
		}
		return nil
	})
	if err == nil {
		o.cleanup(s)
	}
}

// fail moves sessionID to failed unless it already finished.
func (o *Orchestrator) fail(sessionID, reason string) {
	s, err := o.store.Update(sessionID, func(cur *sessionstore.Session) error {
		if cur.State.IsTerminal() {
			return errSkip
		}
		cur.State = sessionstore.StateFailed
		cur.Outcome.Reason = reason
		return nil
	})
	if err == nil {
		o.cleanup(s)
	}
}

// cleanup releases the resources of a session that reached a terminal state. Callers
// must have won the transition into that state.
func (o *Orchestrator) cleanup(s sessionstore.Session) {
	logger := log.With().Str("session_id", s.ID).Logger()
	if err := o.artifacts.Remove(s.ID); err != nil {
		logger.Error().Err(err).Msg("unable to remove artifact")
	}
	o.workers.Terminate(s.ID)
	o.store.Delete(s.ID)
	if t, ok := o.tracked.LoadAndDelete(s.ID); ok {
		t.(*tracked).close(s)
	}

	o.metrics.SessionFinished(string(s.State))
	switch s.State {
	case sessionstore.StateCompleted:
		o.publish(s, eventbus.KindCompleted, "")
	case sessionstore.StateExpired:
		o.publish(s, eventbus.KindExpired, s.Outcome.Reason)
	default:
		o.publish(s, eventbus.KindFailed, s.Outcome.Reason)
	}
	o.updateGauges()
	logger.Info().Str("state", string(s.State)).Str("reason", s.Outcome.Reason).Msg("session closed")
}

// Sweep expires every session past its deadline and releases its resources.
// It returns the ids of the expired sessions.
func (o *Orchestrator) Sweep() []string {
	now := o.store.Now()
	o.answered.Range(func(k, v any) bool {
		if !now.Before(v.(time.Time)) {
			o.answered.Delete(k)
		}
		return true
	})
	ids := o.store.SweepExpired(now)
	for _, id := range ids {
		o.cleanup(sessionstore.Session{
			ID:      id,
			State:   sessionstore.StateExpired,
			Outcome: sessionstore.Outcome{Reason: ErrSessionExpired.Error()},
		})
	}
	if len(ids) > 0 {
		log.Debug().Int("count", len(ids)).Msg("swept expired sessions")
	}
	return ids
}

// Run starts the periodic sweep. It stops when ctx is cancelled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) {
	o.sweeper.Add(1)
	go func() {
		defer o.sweeper.Done()
		ticker := time.NewTicker(o.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopChan:
				return
			case <-ticker.C:
				o.Sweep()
			}
		}
	}()
}

// Stop stops the sweep loop and waits for it to exit.
// Safe to call multiple times.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopChan) })
	o.sweeper.Wait()
}

// Shutdown stops the sweep, refuses new sessions, terminates every worker and
// removes every artifact. It waits for worker watchers until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)
	o.Stop()

	sessions := o.store.Drain()
	for _, s := range sessions {
		s.State = sessionstore.StateFailed
		s.Outcome.Reason = ErrShuttingDown.Error()
		o.cleanup(s)
	}

	done := make(chan struct{})
	go func() {
		o.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if n, err := o.artifacts.Purge(); err != nil {
		log.Error().Err(err).Msg("unable to purge artifacts")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("purged stale artifacts")
	}
	log.Info().Int("sessions", len(sessions)).Msg("orchestrator shut down")
	return nil
}

// Closing reports whether Shutdown has begun.
func (o *Orchestrator) Closing() bool {
	return o.closing.Load()
}

// Len returns the number of live sessions.
func (o *Orchestrator) Len() int {
	return o.store.Len()
}

// Session returns a copy of the session record.
func (o *Orchestrator) Session(sessionID string) (sessionstore.Session, apperrors.Error) {
	s, err := o.store.Get(sessionID)
	if err != nil {
		return s, ErrSessionNotFound
	}
	return s, nil
}

func (o *Orchestrator) publish(s sessionstore.Session, kind eventbus.Kind, reason string) {
	ev := eventbus.SessionEvent{
		SessionID: s.ID,
		Kind:      kind,
		Train:     s.Request.Train,
		Reason:    reason,
	}
	if s.Outcome.Ticket != nil {
		ev.PNR = s.Outcome.Ticket.PNR
	}
	o.bus.PublishSession(ev)
}

func (o *Orchestrator) updateGauges() {
	o.metrics.SetActive(o.store.Len(), o.workers.Live())
}

// asAppError returns err as an apperrors.Error, wrapping foreign errors in fallback.
func asAppError(err error, fallback apperrors.Error) apperrors.Error {
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return fallback.Err(err)
}
