// Package uuid wraps github.com/google/uuid and issues time-ordered UUIDv7 identifiers
// for sessions and requests.
package uuid

import (
	"time"

	"github.com/google/uuid"
)

// UUID is an alias of github.com/google/uuid.UUID.
type UUID = uuid.UUID

// Nil is the zero UUID value.
var Nil = uuid.Nil

// NewRandom returns a new UUIDv7 and any error encountered during generation.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// New returns a new UUIDv7. Panics if the random source fails.
func New() UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a new UUIDv7 in its canonical string form.
func NewString() string {
	return New().String()
}

// Parse parses s into a UUID.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsValid reports whether s is a canonical UUIDv7 string.
func IsValid(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == uuid.Version(7) && len(s) == 36
}

// Timestamp returns the creation time embedded in a UUIDv7.
func Timestamp(id UUID) time.Time {
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec)
}
