package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

const helperEnv = "BOOKRELAY_HELPER_WORKER"

// TestHelperWorker is not a real test. It is the body of the worker process
// spawned by the process supervisor tests.
func TestHelperWorker(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process")
	}
	if os.Getenv(relaycommon.EnvSessionID) == "" {
		fmt.Fprintln(os.Stderr, "missing session id in environment")
		os.Exit(2)
	}

	var p provider.Provider
	switch mode {
	case "ok":
		p = provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			if req.Answer != "x7Kp2" {
				return &provider.Result{Status: provider.StatusFailed, Reason: "wrong captcha " + req.Answer}, nil
			}
			return &provider.Result{Status: provider.StatusSuccess, Ticket: &relaycommon.Ticket{PNR: "4512345678", Status: "CNF"}}, nil
		})
	case "fail":
		p = provider.NewSimulated(provider.SimulatedOptions{FailReason: "no seats"})
	case "crash":
		bufio.NewReader(os.Stdin).ReadString('\n')
		fmt.Fprintln(os.Stderr, "fatal: provider library exploded")
		os.Exit(3)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Hour)
	case "badversion":
		os.Stdout.WriteString(`{"type":"ready","version":"2.0.0"}` + "\n")
		io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	default:
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := RunWorker(ctx, os.Stdin, os.Stdout, p); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperSupervisor(t *testing.T, mode string) Supervisor {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	sup, aerr := NewProcess(ProcessOptions{
		Command:        exe,
		Args:           []string{"-test.run=^TestHelperWorker$"},
		Env:            map[string]string{helperEnv: mode},
		TerminateGrace: "1s",
	})
	require.Nil(t, aerr)
	return sup
}

func TestProcessBooking(t *testing.T) {
	sup := helperSupervisor(t, "ok")
	assert.False(t, sup.Awaits())

	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)
	waitClosed(t, h.Ready(), "ready")
	assert.Equal(t, 1, sup.Live())

	require.Nil(t, sup.DeliverAnswer(context.Background(), s.ID, "x7Kp2"))
	assert.ErrorIs(t, sup.DeliverAnswer(context.Background(), s.ID, "again"), ErrDeliveryFailed)
	waitClosed(t, h.Done(), "done")

	res, rerr := h.Result()
	require.NoError(t, rerr)
	assert.Equal(t, "4512345678", res.Ticket.PNR)
	assert.Equal(t, "CNF", res.Ticket.Status)
	assert.Equal(t, 0, sup.Live())
	sup.Terminate(s.ID)
}

func TestProcessProviderFailure(t *testing.T) {
	sup := helperSupervisor(t, "fail")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)
	waitClosed(t, h.Ready(), "ready")
	require.Nil(t, sup.DeliverAnswer(context.Background(), s.ID, "x7Kp2"))
	waitClosed(t, h.Done(), "done")

	res, rerr := h.Result()
	require.Error(t, rerr)
	assert.ErrorIs(t, rerr, ErrBookingFailed)
	assert.Equal(t, "no seats", rerr.Error())
	require.NotNil(t, res)
	assert.Equal(t, provider.StatusFailed, res.Status)
}

func TestProcessCrash(t *testing.T) {
	sup := helperSupervisor(t, "crash")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)
	waitClosed(t, h.Done(), "done")

	_, rerr := h.Result()
	require.Error(t, rerr)
	assert.ErrorIs(t, rerr, ErrWorkerCrashed)
	assert.Equal(t, apperrors.KindWorker, apperrors.KindOf(rerr))
	assert.Contains(t, rerr.Error(), "provider library exploded")

	assert.ErrorIs(t, sup.DeliverAnswer(context.Background(), s.ID, "x"), ErrWorkerNotFound)
}

func TestProcessDuplicateLaunch(t *testing.T) {
	sup := helperSupervisor(t, "ok")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)

	_, err = sup.Launch(context.Background(), s)
	assert.ErrorIs(t, err, ErrDuplicateWorker)

	waitClosed(t, h.Ready(), "ready")
	require.Nil(t, sup.DeliverAnswer(context.Background(), s.ID, "x7Kp2"))
	waitClosed(t, h.Done(), "done")
	_, rerr := h.Result()
	assert.NoError(t, rerr)
}

func TestProcessTerminate(t *testing.T) {
	sup := helperSupervisor(t, "ok")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)
	waitClosed(t, h.Ready(), "ready")

	sup.Terminate(s.ID)
	waitClosed(t, h.Done(), "done")
	_, rerr := h.Result()
	assert.Error(t, rerr)
	assert.Equal(t, 0, sup.Live())
	sup.Terminate(s.ID)
}

func TestProcessTerminateKillsStubbornWorker(t *testing.T) {
	sup := helperSupervisor(t, "stubborn")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)

	start := time.Now()
	sup.Terminate(s.ID)
	waitClosed(t, h.Done(), "done")
	assert.Less(t, time.Since(start), 5*time.Second)
	_, rerr := h.Result()
	assert.ErrorIs(t, rerr, ErrWorkerCrashed)
}

func TestProcessRejectsIncompatibleWorker(t *testing.T) {
	sup := helperSupervisor(t, "badversion")
	s := testSession(time.Minute)
	h, err := sup.Launch(context.Background(), s)
	require.Nil(t, err)
	waitClosed(t, h.Done(), "done")

	_, rerr := h.Result()
	assert.ErrorIs(t, rerr, ErrProtocol)
	select {
	case <-h.Ready():
		t.Fatal("incompatible worker must not become ready")
	default:
	}
}

func TestDecodeProcessOptions(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	opts, aerr := DecodeProcessOptions(map[string]any{
		"command":         exe,
		"args":            []any{"worker", "--config", "/etc/bookrelay/bookrelay.conf"},
		"terminate_grace": "2s",
		"env":             map[string]any{"EXTRA": "1"},
	})
	require.Nil(t, aerr)
	assert.Equal(t, []string{"worker", "--config", "/etc/bookrelay/bookrelay.conf"}, opts.Args)
	assert.Equal(t, 2*time.Second, opts.grace())
	assert.Equal(t, 4096, opts.StderrTail)
	assert.Equal(t, "1", opts.Env["EXTRA"])

	opts, aerr = DecodeProcessOptions(nil)
	require.Nil(t, aerr)
	assert.Equal(t, exe, opts.Command)
	assert.Equal(t, []string{relaycommon.WorkerSubcommand}, opts.Args)

	script := t.TempDir() + "/worker.sh"
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0755))
	_, aerr = DecodeProcessOptions(map[string]any{"command": script})
	assert.ErrorIs(t, aerr, ErrInvalidOptions)

	_, aerr = DecodeProcessOptions(map[string]any{"terminate_grace": "later"})
	assert.ErrorIs(t, aerr, ErrInvalidOptions)

	_, aerr = New(&config.WorkerConfig{Strategy: config.StrategyProcess, Options: map[string]any{"command": script}}, nil)
	assert.ErrorIs(t, aerr, ErrInvalidOptions)
}
