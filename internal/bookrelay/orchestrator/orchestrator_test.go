package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bookrelay/bookrelay/internal/bookrelay/challenge"
	"github.com/bookrelay/bookrelay/internal/bookrelay/eventbus"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
	"github.com/bookrelay/bookrelay/internal/common/uuid"
)

const testAnswer = "x7Kp2"

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type fixedGenerator struct{ err error }

func (g fixedGenerator) Generate() ([]byte, string, error) {
	if g.err != nil {
		return nil, "", g.err
	}
	return pngHeader, testAnswer, nil
}

type testClock struct{ shift atomic.Int64 }

func (c *testClock) Now() time.Time          { return time.Now().Add(time.Duration(c.shift.Load())) }
func (c *testClock) Advance(d time.Duration) { c.shift.Add(int64(d)) }

// detached runs workers in process but reports results asynchronously.
type detached struct{ worker.Supervisor }

func (detached) Awaits() bool { return false }

type failingLaunch struct{ worker.Supervisor }

func (failingLaunch) Launch(context.Context, sessionstore.Session) (worker.Handle, apperrors.Error) {
	return nil, worker.ErrLaunchFailed.Msg("no workers available")
}

type fixture struct {
	o         *Orchestrator
	clock     *testClock
	artifacts *challenge.ArtifactStore
	sup       worker.Supervisor
	events    <-chan eventbus.Event
}

func newFixture(t *testing.T, gen challenge.Generator, sup worker.Supervisor) *fixture {
	t.Helper()
	artifacts, err := challenge.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	clock := &testClock{}
	bus := eventbus.New()
	events, _ := bus.Subscribe(eventbus.AllSessions, 256)
	o := New(sessionstore.New(sessionstore.WithClock(clock.Now)), gen, artifacts, sup, Options{
		TTL:            time.Minute,
		SweepInterval:  10 * time.Millisecond,
		DefaultMobile:  "9876543210",
		DefaultPayment: "UPI",
	}, WithEventBus(bus))
	return &fixture{o: o, clock: clock, artifacts: artifacts, sup: sup, events: events}
}

func (f *fixture) shutdown(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.o.Shutdown(ctx))
}

// kinds collects event kinds for sessionID until want is seen.
func (f *fixture) waitFor(t *testing.T, sessionID string, want eventbus.Kind) []eventbus.Kind {
	t.Helper()
	var seen []eventbus.Kind
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-f.events:
			ev := e.Data.(eventbus.SessionEvent)
			if ev.SessionID != sessionID {
				continue
			}
			seen = append(seen, ev.Kind)
			if ev.Kind == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s, saw %v", want, seen)
			return nil
		}
	}
}

func (f *fixture) artifactCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.artifacts.Dir())
	require.NoError(t, err)
	return len(entries)
}

func bookingRequest() relaycommon.BookingRequest {
	return relaycommon.BookingRequest{
		Train: "12127", From: "TNA", To: "PUNE", Class: "2S", Quota: "GN", Date: "20250219",
		Passengers: []relaycommon.Passenger{{Age: 20, Name: "Abhinav S", Gender: "M"}},
	}
}

func ticketProvider(got chan<- provider.Request) provider.Provider {
	return provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		if got != nil {
			got <- req
		}
		return &provider.Result{
			Status: provider.StatusSuccess,
			Ticket: &relaycommon.Ticket{PNR: "4512345678", Status: "CNF"},
		}, nil
	})
}

func inProcess(p provider.Provider) worker.Supervisor {
	return worker.NewInProcess(p, worker.InProcessOptions{TerminateGrace: "2s"})
}

func TestBeginSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)
	assert.True(t, uuid.IsValid(id))

	r := f.o.CheckChallengeReady(id)
	assert.True(t, r.Ready)
	assert.Equal(t, "/sessions/"+id+"/challenge", r.ArtifactURL)

	data, err := f.o.FetchArtifact(id)
	require.Nil(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, 1, f.o.Len())
	assert.Equal(t, 1, f.sup.Live())

	assert.Equal(t, []eventbus.Kind{eventbus.KindCreated, eventbus.KindChallengeReady, eventbus.KindAwaitingAnswer},
		f.waitFor(t, id, eventbus.KindAwaitingAnswer))
	s, err := f.o.Session(id)
	require.Nil(t, err)
	assert.Equal(t, sessionstore.StateAwaitingAnswer, s.State)
	assert.Equal(t, testAnswer, s.Challenge.Answer)
	assert.Equal(t, f.artifacts.Path(id), s.Challenge.ArtifactPath)
}

func TestBeginSessionNormalises(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	req := bookingRequest()
	req.From, req.To, req.Class, req.Quota = " tna", "pune ", "2s", "gn"
	req.Passengers[0].Gender = "m"
	id, err := f.o.BeginSession(context.Background(), req)
	require.Nil(t, err)

	s, err := f.o.Session(id)
	require.Nil(t, err)
	assert.Equal(t, "TNA", s.Request.From)
	assert.Equal(t, "PUNE", s.Request.To)
	assert.Equal(t, "2S", s.Request.Class)
	assert.Equal(t, "M", s.Request.Passengers[0].Gender)
	assert.Equal(t, "9876543210", s.Request.Mobile)
	assert.Equal(t, "UPI", s.Request.Payment)
}

func TestBeginSessionRejectsInvalidRequest(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	req := bookingRequest()
	req.Train = "1212"
	req.Passengers = nil
	_, err := f.o.BeginSession(context.Background(), req)
	require.NotNil(t, err)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode())
	assert.Equal(t, "invalid-request", err.Code())
	assert.Contains(t, err.ErrorAll(), "train: must be a 5 digit train number")
	assert.Contains(t, err.ErrorAll(), "passengers: missing required attribute")
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.artifactCount(t))
}

func TestBeginSessionRenderFailureLeavesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{err: errors.New("font missing")}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	_, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.NotNil(t, err)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())
	assert.Equal(t, "challenge-failed", err.Code())
	assert.ErrorIs(t, err, challenge.ErrRender)
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.sup.Live())
	assert.Equal(t, 0, f.artifactCount(t))
}

func TestBeginSessionLaunchFailureLeavesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, failingLaunch{inProcess(ticketProvider(nil))})
	defer f.shutdown(t)

	_, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.NotNil(t, err)
	assert.ErrorIs(t, err, worker.ErrLaunchFailed)
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.artifactCount(t))
}

func TestCheckChallengeReadyUnknownSession(t *testing.T) {
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	assert.False(t, f.o.CheckChallengeReady(uuid.NewString()).Ready)
	assert.False(t, f.o.CheckChallengeReady("").Ready)
	_, err := f.o.FetchArtifact(uuid.NewString())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitCorrectAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)
	got := make(chan provider.Request, 1)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(got)))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	sub, err := f.o.SubmitAnswer(context.Background(), id, " X7KP2 ")
	require.Nil(t, err)
	assert.False(t, sub.Pending)
	require.NotNil(t, sub.Summary.Ticket)
	assert.Equal(t, "4512345678", sub.Summary.Ticket.PNR)
	assert.Equal(t, "12127", sub.Summary.Train)
	assert.Equal(t, "Abhinav S", sub.Summary.Passengers[0].Name)

	req := <-got
	assert.Equal(t, id, req.SessionID)
	assert.Equal(t, "X7KP2", req.Answer)
	assert.Equal(t, "9876543210", req.Booking.Mobile)

	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.artifactCount(t))
	_, err = f.o.FetchArtifact(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, f.o.CheckChallengeReady(id).Ready)

	_, err = f.o.SubmitAnswer(context.Background(), id, testAnswer)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, http.StatusConflict, err.StatusCode())

	assert.Contains(t, f.waitFor(t, id, eventbus.KindCompleted), eventbus.KindSubmitted)
}

func TestSubmitWrongAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls atomic.Int32
	p := provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		calls.Add(1)
		return &provider.Result{Status: provider.StatusSuccess}, nil
	})
	f := newFixture(t, fixedGenerator{}, inProcess(p))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	_, err = f.o.SubmitAnswer(context.Background(), id, "wrong")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	assert.Equal(t, http.StatusUnauthorized, err.StatusCode())
	assert.Equal(t, "invalid-answer", err.Code())

	_, err = f.o.FetchArtifact(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.sup.Live())
	assert.Equal(t, 0, f.artifactCount(t))

	_, err = f.o.SubmitAnswer(context.Background(), id, testAnswer)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, int32(0), calls.Load())

	seen := f.waitFor(t, id, eventbus.KindFailed)
	assert.Contains(t, seen, eventbus.KindAnswerRejected)
}

func TestSubmitEmptyAnswerKeepsSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)
	_, err = f.o.SubmitAnswer(context.Background(), id, "  ")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	assert.True(t, f.o.CheckChallengeReady(id).Ready)
}

func TestConcurrentSubmitsHaveOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	p := provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		<-release
		return &provider.Result{Status: provider.StatusSuccess, Ticket: &relaycommon.Ticket{PNR: "4512345678"}}, nil
	})
	f := newFixture(t, fixedGenerator{}, inProcess(p))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	const n = 10
	results := make(chan apperrors.Error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.o.SubmitAnswer(context.Background(), id, testAnswer)
			results <- err
		}()
	}
	// The winner is parked in the provider until release is closed.
	for i := 0; i < n-1; i++ {
		err := <-results
		require.NotNil(t, err)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	}
	close(release)
	assert.Nil(t, <-results)
}

func TestSubmitProviderFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		return &provider.Result{Status: provider.StatusFailed, Reason: "No seats available"}, nil
	})
	f := newFixture(t, fixedGenerator{}, inProcess(p))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	_, err = f.o.SubmitAnswer(context.Background(), id, testAnswer)
	require.NotNil(t, err)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
	assert.Equal(t, "worker-failed", err.Code())
	assert.Equal(t, "No seats available", err.Error())
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.artifactCount(t))
	f.waitFor(t, id, eventbus.KindFailed)
}

func TestSubmitDetachedWorker(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, detached{inProcess(ticketProvider(nil))})
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	sub, err := f.o.SubmitAnswer(context.Background(), id, testAnswer)
	require.Nil(t, err)
	assert.True(t, sub.Pending)
	assert.Nil(t, sub.Summary.Ticket)
	assert.Equal(t, "PUNE", sub.Summary.To)

	f.waitFor(t, id, eventbus.KindCompleted)
	require.Eventually(t, func() bool { return f.o.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.artifactCount(t))

	_, err = f.o.SubmitAnswer(context.Background(), id, testAnswer)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestDuplicateLaunchLeavesOriginalWorker(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)
	s, err := f.o.Session(id)
	require.Nil(t, err)

	_, lerr := f.sup.Launch(context.Background(), s)
	require.NotNil(t, lerr)
	assert.ErrorIs(t, lerr, worker.ErrDuplicateWorker)
	assert.Equal(t, http.StatusConflict, lerr.StatusCode())

	sub, err := f.o.SubmitAnswer(context.Background(), id, testAnswer)
	require.Nil(t, err)
	assert.Equal(t, "4512345678", sub.Summary.Ticket.PNR)
}

func TestExpiredSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)
	other, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)

	f.clock.Advance(2 * time.Minute)
	assert.False(t, f.o.CheckChallengeReady(id).Ready)
	_, err = f.o.FetchArtifact(id)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = f.o.SubmitAnswer(context.Background(), id, testAnswer)
	assert.ErrorIs(t, err, ErrSessionExpired)

	assert.ElementsMatch(t, []string{id, other}, f.o.Sweep())
	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.sup.Live())
	assert.Equal(t, 0, f.artifactCount(t))
	_, err = f.o.FetchArtifact(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	f.waitFor(t, id, eventbus.KindExpired)

	assert.Empty(t, f.o.Sweep())
}

func TestRunSweepsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.o.Run(ctx)

	id, err := f.o.BeginSession(context.Background(), bookingRequest())
	require.Nil(t, err)
	f.clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool { return f.o.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	f.waitFor(t, id, eventbus.KindExpired)
	assert.Equal(t, 0, f.sup.Live())

	f.o.Stop()
	f.o.Stop()
}

func TestShutdownReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))

	for i := 0; i < 3; i++ {
		_, err := f.o.BeginSession(context.Background(), bookingRequest())
		require.Nil(t, err)
	}
	f.o.Run(context.Background())
	f.shutdown(t)

	assert.Equal(t, 0, f.o.Len())
	assert.Equal(t, 0, f.sup.Live())
	assert.Equal(t, 0, f.artifactCount(t))

	_, err := f.o.BeginSession(context.Background(), bookingRequest())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestConcurrentBeginsHaveUniqueIDs(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, fixedGenerator{}, inProcess(ticketProvider(nil)))
	defer f.shutdown(t)

	const n = 500
	var (
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.o.BeginSession(context.Background(), bookingRequest())
			if !assert.Nil(t, err) {
				return
			}
			assert.True(t, f.o.CheckChallengeReady(id).Ready)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, n)
	assert.Equal(t, n, f.o.Len())
	assert.Equal(t, n, f.artifactCount(t))
}
