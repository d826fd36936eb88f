package sessionstore

import (
	"time"

	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
)

// State is the lifecycle position of a booking session.
type State string

const (
	StateCreated        State = "created"
	StateChallengeReady State = "challenge_ready"
	StateAwaitingAnswer State = "awaiting_answer" // the worker is blocked on the answer
	StateSubmitted      State = "submitted"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateExpired        State = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// ChallengeIssued reports whether the challenge can be fetched and answered.
func (s State) ChallengeIssued() bool {
	return s == StateChallengeReady || s == StateAwaitingAnswer
}

// Challenge is the expected answer and where its image lives.
type Challenge struct {
	Answer       string
	ArtifactPath string
}

// Outcome records how a session ended.
type Outcome struct {
	Ticket *relaycommon.Ticket
	Reason string
}

// Session is a snapshot of one booking session. Values returned by the Store are
// copies; mutating them has no effect on the stored record.
type Session struct {
	ID        string
	Request   relaycommon.BookingRequest
	Challenge Challenge
	State     State
	Outcome   Outcome
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session lifetime has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) clone() Session {
	c := s
	c.Request = s.Request.Clone()
	if s.Outcome.Ticket != nil {
		t := *s.Outcome.Ticket
		c.Outcome.Ticket = &t
	}
	return c
}
