// Package provider is the client side of the external booking provider.
package provider

import (
	"context"
	"fmt"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
)

// Request is a single booking attempt.
type Request struct {
	SessionID string                     `json:"session_id"`
	Booking   relaycommon.BookingRequest `json:"booking"`
	Answer    string                     `json:"answer"` // verification answer entered by the user
}

// Status is the provider verdict.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is what a provider reports for a booking attempt. Reason is set when
// Status is StatusFailed.
type Result struct {
	Status Status              `json:"status"`
	Ticket *relaycommon.Ticket `json:"ticket,omitempty"`
	Reason string              `json:"error,omitempty"`
}

// Succeeded reports whether the booking went through.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Provider performs bookings. A returned error means the provider could not be
// reached or answered garbage; a provider-side refusal is a Result with StatusFailed.
type Provider interface {
	Book(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Book calls f.
func (f Func) Book(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Credentials authenticate the booking account with the provider.
type Credentials struct {
	UserID   string
	Password string
}

// New builds the provider selected by cfg. Credentials are read from the
// environment variables named in cfg.
func New(cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case config.ProviderSimulated:
		return NewSimulated(SimulatedOptions{}), nil
	case config.ProviderHTTP:
		user, pass := cfg.Credentials()
		return NewHTTPProvider(cfg.Endpoint, Credentials{UserID: user, Password: pass}, cfg.GetTimeout())
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", cfg.Kind)
	}
}
