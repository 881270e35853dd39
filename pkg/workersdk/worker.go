// Package workersdk is a small helper for writing additional plugin
// workers in Go without hand-rolling the stdio protocol loop every time: a
// thin wrapper exposing typed handlers for the line-framed wire protocol's
// handshake/activate/ping exchange.
package workersdk

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// HandshakeFunc answers an inbound Handshake with a HandshakeAck.
type HandshakeFunc func(req plugin.WireMessage) plugin.WireMessage

// ActivateFunc answers an inbound Activate with an ActivateResult.
type ActivateFunc func(req plugin.WireMessage) plugin.WireMessage

// Worker drives the runtime side of the plugin wire protocol on a pair of
// streams: it tracks whether a handshake has been seen (Activate and Ping
// are rejected before one arrives) and dispatches each inbound message to
// the matching handler.
type Worker struct {
	In  io.Reader
	Out io.Writer

	OnHandshake HandshakeFunc
	OnActivate  ActivateFunc

	seenHandshake bool
}

// New builds a Worker wired to the process's standard streams.
func New() *Worker {
	return &Worker{In: os.Stdin, Out: os.Stdout}
}

// Run reads framed messages until stdin closes or a Cancel arrives,
// dispatching each to the registered handler. It returns nil on a clean
// Cancel/EOF, io.EOF when an Activate or Ping arrives before any Handshake,
// and a non-nil error on a malformed frame or write failure.
func (w *Worker) Run() error {
	scanner := bufio.NewScanner(w.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg plugin.WireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return err
		}

		switch msg.Kind {
		case plugin.KindHandshake:
			w.seenHandshake = true
			if w.OnHandshake == nil {
				continue
			}
			if err := w.send(w.OnHandshake(msg)); err != nil {
				return err
			}
		case plugin.KindActivate:
			if !w.seenHandshake {
				return io.EOF
			}
			if w.OnActivate == nil {
				continue
			}
			if err := w.send(w.OnActivate(msg)); err != nil {
				return err
			}
		case plugin.KindPing:
			if !w.seenHandshake {
				return io.EOF
			}
			if err := w.send(plugin.WireMessage{Kind: plugin.KindPong, RequestID: msg.RequestID}); err != nil {
				return err
			}
		case plugin.KindCancel:
			return nil
		default:
			// handshake_ack, activate_result, pong, log: not expected
			// inbound on a worker's stdin, ignored for forward
			// compatibility.
		}
	}
	return scanner.Err()
}

// Log emits a Log frame on the worker's stdout.
func (w *Worker) Log(level, message string) error {
	return w.send(plugin.WireMessage{Kind: plugin.KindLog, Level: level, Message: message})
}

func (w *Worker) send(msg plugin.WireMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	_, err = w.Out.Write(encoded)
	return err
}
