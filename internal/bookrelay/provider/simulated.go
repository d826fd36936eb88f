package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
)

// SimulatedOptions tune the simulated provider.
type SimulatedOptions struct {
	Delay      time.Duration // time spent per booking
	FailReason string        // when set, every booking fails with this reason
}

// Simulated books nothing and answers with a made-up ticket.
type Simulated struct {
	opts SimulatedOptions
}

// NewSimulated returns a simulated provider.
func NewSimulated(opts SimulatedOptions) *Simulated {
	return &Simulated{opts: opts}
}

// Book implements Provider.
func (s *Simulated) Book(ctx context.Context, req Request) (*Result, error) {
	if s.opts.Delay > 0 {
		t := time.NewTimer(s.opts.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if s.opts.FailReason != "" {
		return &Result{Status: StatusFailed, Reason: s.opts.FailReason}, nil
	}
	return &Result{
		Status: StatusSuccess,
		Ticket: &relaycommon.Ticket{
			PNR:    fmt.Sprintf("%010d", rand.Int64N(1e10)),
			Status: "CNF",
		},
	}, nil
}
