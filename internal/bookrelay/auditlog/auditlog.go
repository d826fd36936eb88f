// Package auditlog records session lifecycle events as JSON lines.
// An Auditor subscribes to every session topic on the event bus and writes one
// zerolog record per event until it is stopped.
package auditlog

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/eventbus"
)

const subscriberBuffer = 1024

// Auditor drains session events from the bus into a logger.
type Auditor struct {
	bus    *eventbus.Bus
	logger zerolog.Logger

	once  sync.Once
	unsub func()
	done  chan struct{}
}

// New creates an Auditor writing to w. Start must be called to begin recording.
func New(bus *eventbus.Bus, w io.Writer) *Auditor {
	return &Auditor{
		bus:    bus,
		logger: zerolog.New(w).With().Timestamp().Str("stream", "audit").Logger(),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and records events in the background.
func (a *Auditor) Start() {
	ch, unsub := a.bus.Subscribe(eventbus.AllSessions, subscriberBuffer)
	a.unsub = unsub
	go func() {
		defer close(a.done)
		for e := range ch {
			a.record(e)
		}
	}()
}

// Stop unsubscribes and waits for buffered events to be written.
func (a *Auditor) Stop() {
	a.once.Do(func() {
		if a.unsub == nil {
			close(a.done)
			return
		}
		a.unsub()
		<-a.done
	})
}

func (a *Auditor) record(e eventbus.Event) {
	ev, ok := e.Data.(eventbus.SessionEvent)
	if !ok {
		a.logger.Warn().Str("topic", e.Topic).Msg("unexpected event payload")
		return
	}
	rec := a.logger.Info()
	if ev.Kind == eventbus.KindFailed || ev.Kind == eventbus.KindExpired {
		rec = a.logger.Warn()
	}
	rec = rec.Str("session_id", ev.SessionID).
		Str("event", string(ev.Kind)).
		Time("at", ev.At)
	if ev.Train != "" {
		rec = rec.Str("train", ev.Train)
	}
	if ev.PNR != "" {
		rec = rec.Str("pnr", ev.PNR)
	}
	if ev.Reason != "" {
		rec = rec.Str("reason", ev.Reason)
	}
	rec.Msg("session " + string(ev.Kind))
}

// OpenFile opens path for appending audit records, creating parent directories.
// An empty path selects standard output, which the caller must not close.
func OpenFile(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("unable to open audit log")
		return nil, err
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
