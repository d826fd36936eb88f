package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
)

// RunWorker is the body of an out-of-process worker. It reads the launch message
// from in, reports ready, waits for the answer, books through p and writes the
// result to out. A result line is written for every outcome once the launch message
// has been accepted. The returned error is nil when a result was delivered.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, p provider.Provider) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := newEncoder(out)
	dec := newDecoder(in)

	msgs := make(chan Message)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			m, err := dec.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() (Message, error) {
		select {
		case m, ok := <-msgs:
			if ok {
				return m, nil
			}
			select {
			case err := <-readErr:
				return Message{}, err
			default:
				return Message{}, io.EOF
			}
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}

	launch, err := next()
	if err != nil {
		return fmt.Errorf("waiting for launch: %w", err)
	}
	if launch.Type != MsgLaunch || launch.Request == nil || launch.SessionID == "" {
		return ErrProtocol.Msg("expected launch message")
	}
	if !IsProtocolCompatible(launch.Version) {
		enc.Send(resultMessage(nil, ErrProtocol.Msg("unsupported protocol version "+launch.Version)))
		return ErrProtocol.Msg("unsupported protocol version " + launch.Version)
	}

	logger := log.With().Str("session_id", launch.SessionID).Str("worker", "process").Logger()
	if err := enc.Send(Message{Type: MsgReady, Version: ProtocolVersion, SessionID: launch.SessionID}); err != nil {
		return fmt.Errorf("sending ready: %w", err)
	}
	logger.Debug().Msg("waiting for answer")

	answer, err := next()
	if err == nil && answer.Type != MsgAnswer {
		err = ErrProtocol.Msg("expected answer message, got " + string(answer.Type))
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrWorkerCancelled.Msg("answer channel closed")
		}
		enc.Send(resultMessage(nil, err))
		return nil
	}

	logger.Info().Msg("answer received, calling provider")
	res, err := outcome(p.Book(ctx, provider.Request{
		SessionID: launch.SessionID,
		Booking:   *launch.Request,
		Answer:    answer.Answer,
	}))
	if err != nil {
		logger.Error().Err(err).Msg("booking failed")
	}
	if err := enc.Send(resultMessage(res, err)); err != nil {
		return fmt.Errorf("sending result: %w", err)
	}
	return nil
}
