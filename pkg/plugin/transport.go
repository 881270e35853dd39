package plugin

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Transport is the capability set a session's worker connection offers:
// send a frame, receive a frame with a deadline, terminate. The activation
// engine is written entirely against this interface and must not know
// whether it is driving a real child process or a scripted test double.
type Transport interface {
	Send(msg WireMessage) error
	Recv(deadline time.Time) (WireMessage, error)
	Terminate()
}

// errRecvTimeout is returned by Recv when the deadline elapses before a
// frame is available.
var errRecvTimeout = NewRuntimeError(CodeTransportIo, "recv deadline exceeded")

// IsTimeout reports whether err is the sentinel Recv returns on deadline
// expiry, as opposed to a genuine transport failure.
func IsTimeout(err error) bool {
	re, ok := err.(*RuntimeError)
	return ok && re == errRecvTimeout
}

// ProcessTransport launches a worker as a child OS process and exchanges
// line-framed messages over its piped stdio. It is the production
// implementation of Transport.
type ProcessTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *frameWriter
	frames <-chan frameOrErr
	cancel context.CancelFunc

	mu         sync.Mutex
	terminated bool
}

type frameOrErr struct {
	msg WireMessage
	err error
}

// SpawnProcess starts command (argv[0] plus args) with the given
// environment additions, piping its stdin/stdout for framed exchange. An
// empty command is InvalidConfig, never attempted.
func SpawnProcess(ctx context.Context, command []string, env []string) (*ProcessTransport, error) {
	if len(command) == 0 {
		return nil, NewRuntimeError(CodeInvalidConfig, "worker command is empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, WrapRuntimeError(CodeSpawnFailed, err, "attach worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, WrapRuntimeError(CodeSpawnFailed, err, "attach worker stdout")
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, WrapRuntimeError(CodeSpawnFailed, err, "start worker process")
	}

	frames := make(chan frameOrErr, 8)
	reader := newFrameReader(stdout)
	go func() {
		defer close(frames)
		for {
			msg, err := reader.Read()
			frames <- frameOrErr{msg: msg, err: err}
			if err != nil {
				return
			}
		}
	}()

	return &ProcessTransport{
		cmd:    cmd,
		stdin:  stdin,
		writer: newFrameWriter(stdin),
		frames: frames,
		cancel: cancel,
	}, nil
}

// Send writes a single framed message to the worker's stdin.
func (t *ProcessTransport) Send(msg WireMessage) error {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return NewRuntimeError(CodeTransportIo, "send on terminated transport")
	}
	t.mu.Unlock()
	return t.writer.Write(msg)
}

// Recv blocks for the next framed message or until deadline elapses,
// whichever comes first.
func (t *ProcessTransport) Recv(deadline time.Time) (WireMessage, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case fe, ok := <-t.frames:
		if !ok {
			return WireMessage{}, NewRuntimeError(CodeTransportIo, "worker stdout closed")
		}
		return fe.msg, fe.err
	case <-timer.C:
		return WireMessage{}, errRecvTimeout
	}
}

// Terminate signals the worker to exit and waits with a short grace
// period before force-killing. Idempotent.
func (t *ProcessTransport) Terminate() {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return
	}
	t.terminated = true
	t.mu.Unlock()

	if t.stdin != nil {
		_ = t.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = t.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}
	t.cancel()
}

// ScriptedTransport is a test double that replays a canned sequence of
// inbound messages and records outbound ones, interchangeable with
// ProcessTransport behind the Transport interface.
type ScriptedTransport struct {
	mu         sync.Mutex
	inbound    []WireMessage
	inboundErr error
	sent       []WireMessage
	terminated bool
	hangRecv   bool

	// OnSend, if set, is invoked synchronously for every Send call, letting
	// tests script replies in response to specific outbound frames rather
	// than a fixed sequence.
	OnSend func(msg WireMessage) (WireMessage, bool)
}

// NewScriptedTransport builds a ScriptedTransport that replays messages in
// order on successive Recv calls.
func NewScriptedTransport(messages ...WireMessage) *ScriptedTransport {
	return &ScriptedTransport{inbound: messages}
}

// HangRecv makes every subsequent Recv block until its deadline elapses,
// even with messages queued, used to simulate a worker that has stopped
// replying (such as a dead cached worker failing its health probe).
func (t *ScriptedTransport) HangRecv() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangRecv = true
}

func (t *ScriptedTransport) Send(msg WireMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	if t.OnSend != nil {
		if reply, ok := t.OnSend(msg); ok {
			t.inbound = append(t.inbound, reply)
		}
	}
	return nil
}

func (t *ScriptedTransport) Recv(deadline time.Time) (WireMessage, error) {
	t.mu.Lock()
	if t.hangRecv {
		t.mu.Unlock()
		<-time.After(time.Until(deadline))
		return WireMessage{}, errRecvTimeout
	}
	if t.inboundErr != nil {
		err := t.inboundErr
		t.mu.Unlock()
		return WireMessage{}, err
	}
	if len(t.inbound) == 0 {
		t.mu.Unlock()
		<-time.After(time.Until(deadline))
		return WireMessage{}, errRecvTimeout
	}
	msg := t.inbound[0]
	t.inbound = t.inbound[1:]
	t.mu.Unlock()
	return msg, nil
}

func (t *ScriptedTransport) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
}

// Terminated reports whether Terminate has been called, for assertions.
func (t *ScriptedTransport) Terminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

// SentMessages returns a copy of every message passed to Send, for
// assertions.
func (t *ScriptedTransport) SentMessages() []WireMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WireMessage, len(t.sent))
	copy(out, t.sent)
	return out
}
