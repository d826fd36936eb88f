package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

type processWorker struct {
	*handle
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *encoder
	cancel context.CancelFunc
	exited chan struct{}
	tail   *relaycommon.TailWriter
	logger zerolog.Logger

	answerMu  sync.Mutex
	answered  bool
	stdinDone bool
}

type process struct {
	opts ProcessOptions

	mu      sync.Mutex
	workers map[string]*processWorker
}

// NewProcess returns a supervisor that runs each worker as a child process.
func NewProcess(opts ProcessOptions) (Supervisor, apperrors.Error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &process{
		opts:    opts,
		workers: make(map[string]*processWorker),
	}, nil
}

// Awaits is false: the submit call is acknowledged once the answer is delivered
// and the result is collected by watching the handle.
func (p *process) Awaits() bool { return false }

func (p *process) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *process) Launch(ctx context.Context, s sessionstore.Session) (Handle, apperrors.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.workers[s.ID]; exists {
		return nil, ErrDuplicateWorker
	}

	wctx, cancel := lifetime(ctx, s)
	cmd := exec.CommandContext(wctx, p.opts.Command, p.opts.Args...)
	cmd.Env = p.environment(s.ID)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.opts.grace()

	w := &processWorker{
		handle: newHandle(s.ID),
		cmd:    cmd,
		cancel: cancel,
		exited: make(chan struct{}),
		tail:   relaycommon.NewTailWriter(p.opts.StderrTail),
		logger: log.With().Str("session_id", s.ID).Str("worker", "process").Logger(),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, ErrLaunchFailed.Msg("failed to get stdin pipe: " + err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, ErrLaunchFailed.Msg("failed to get stdout pipe: " + err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, ErrLaunchFailed.Msg("failed to get stderr pipe: " + err.Error())
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, ErrLaunchFailed.Msg("failed to start worker: " + err.Error())
	}
	w.stdin = stdin
	w.enc = newEncoder(stdin)

	req := s.Request.Clone()
	if err := w.enc.Send(Message{
		Type:      MsgLaunch,
		Version:   ProtocolVersion,
		SessionID: s.ID,
		Request:   &req,
	}); err != nil {
		cancel()
		cmd.Wait()
		return nil, ErrLaunchFailed.Msg("failed to send launch message: " + err.Error())
	}

	p.workers[s.ID] = w
	w.logger.Info().Int("pid", cmd.Process.Pid).Msg("worker started")
	go p.supervise(w, stdout, stderr)
	return w, nil
}

// environment passes the parent environment through, so provider credentials
// reach the worker without appearing on its command line.
func (p *process) environment(sessionID string) []string {
	env := os.Environ()
	for k, v := range p.opts.Env {
		env = appendOrReplaceEnv(env, k, v)
	}
	return appendOrReplaceEnv(env, relaycommon.EnvSessionID, sessionID)
}

func (p *process) supervise(w *processWorker, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 4096), maxLineSize)
		for sc.Scan() {
			line := sc.Text()
			w.tail.Write([]byte(line + "\n"))
			w.logger.Info().Str("stream", "stderr").Msg(line)
		}
	}()

	var (
		res *provider.Result
		err error
	)
	dec := newDecoder(stdout)
	for {
		m, derr := dec.Next()
		if derr != nil {
			if !errors.Is(derr, io.EOF) && res == nil && err == nil {
				err = derr
			}
			break
		}
		switch m.Type {
		case MsgReady:
			if !IsProtocolCompatible(m.Version) {
				err = ErrProtocol.Msg("unsupported worker protocol version " + m.Version)
				w.closeStdin()
				continue
			}
			w.markReady()
		case MsgResult:
			if res == nil && err == nil {
				res, err = outcome(m.result(), nil)
			}
		default:
			w.logger.Warn().Str("type", string(m.Type)).Msg("unexpected worker message")
		}
	}
	io.Copy(io.Discard, stdout)
	wg.Wait()
	waitErr := w.cmd.Wait()
	close(w.exited)
	w.cancel()

	if res == nil && err == nil {
		reason := "worker exited without a result"
		if waitErr != nil {
			reason += ": " + waitErr.Error()
		}
		if t := strings.TrimSpace(w.tail.String()); t != "" {
			reason += ": " + lastLine(t)
		}
		err = ErrWorkerCrashed.Msg(reason)
	}
	if err != nil {
		w.logger.Error().Err(err).Msg("worker finished without booking")
	} else {
		w.logger.Info().Interface("ticket", res.Ticket).Msg("booking completed")
	}

	p.mu.Lock()
	if p.workers[w.sessionID] == w {
		delete(p.workers, w.sessionID)
	}
	p.mu.Unlock()
	w.finish(res, err)
}

func (p *process) DeliverAnswer(ctx context.Context, sessionID, answer string) apperrors.Error {
	p.mu.Lock()
	w, ok := p.workers[sessionID]
	p.mu.Unlock()
	if !ok {
		return ErrWorkerNotFound
	}
	if err := ctx.Err(); err != nil {
		return ErrDeliveryFailed.Err(err)
	}

	w.answerMu.Lock()
	defer w.answerMu.Unlock()
	if w.answered || w.stdinDone {
		return ErrDeliveryFailed.Msg("answer already delivered")
	}
	select {
	case <-w.exited:
		return ErrDeliveryFailed.Msg("worker already exited")
	default:
	}
	if err := w.enc.Send(Message{Type: MsgAnswer, Answer: answer}); err != nil {
		return ErrDeliveryFailed.Msg("failed to write answer: " + err.Error())
	}
	w.answered = true
	w.stdin.Close()
	w.stdinDone = true
	return nil
}

var errStillRunning = errors.New("worker still running")

// Terminate interrupts the worker, polls for its exit and kills it once the
// grace period is over.
func (p *process) Terminate(sessionID string) {
	p.mu.Lock()
	w, ok := p.workers[sessionID]
	p.mu.Unlock()
	if !ok {
		return
	}

	w.closeStdin()
	if w.cmd.Process != nil {
		if err := w.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			w.logger.Debug().Err(err).Msg("interrupt failed")
		}
	}

	const pollDelay = 50 * time.Millisecond
	attempts := uint(p.opts.grace()/pollDelay) + 1
	err := retry.Do(
		func() error {
			select {
			case <-w.exited:
				return nil
			default:
				return errStillRunning
			}
		},
		retry.Attempts(attempts),
		retry.Delay(pollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		w.logger.Warn().Msg("worker ignored interrupt, killing")
		w.cmd.Process.Kill()
	}
	w.cancel()
	<-w.done
}

func (w *processWorker) closeStdin() {
	w.answerMu.Lock()
	defer w.answerMu.Unlock()
	if !w.stdinDone {
		w.stdin.Close()
		w.stdinDone = true
	}
}

func appendOrReplaceEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
