package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MessageKind discriminates WireMessage variants. The exact string values
// are part of the on-the-wire contract and must not change.
type MessageKind string

const (
	KindHandshake      MessageKind = "handshake"
	KindHandshakeAck   MessageKind = "handshake_ack"
	KindActivate       MessageKind = "activate"
	KindActivateResult MessageKind = "activate_result"
	KindCancel         MessageKind = "cancel"
	KindPing           MessageKind = "ping"
	KindPong           MessageKind = "pong"
	KindLog            MessageKind = "log"
)

// WireMessage is a single tagged-union frame of the plugin wire protocol.
// Every variant's fields are represented as optional members alongside the
// Kind discriminator: unmarshalling a frame of any kind ignores the fields
// that don't apply, and unknown fields on the wire are tolerated by
// json.Unmarshal without any extra bookkeeping.
type WireMessage struct {
	Kind MessageKind `json:"kind"`

	// Handshake
	ProtocolVersion           uint32   `json:"protocol_version,omitempty"`
	PluginID                  string   `json:"plugin_id,omitempty"`
	PluginVersion             string   `json:"plugin_version,omitempty"`
	DeclaredCapabilities      []string `json:"declared_capabilities,omitempty"`
	SupportedProtocolVersions []uint32 `json:"supported_protocol_versions,omitempty"`

	// HandshakeAck
	Accepted                  bool     `json:"accepted,omitempty"`
	NegotiatedProtocolVersion uint32   `json:"negotiated_protocol_version,omitempty"`
	ReportedCapabilities      []string `json:"reported_capabilities,omitempty"`

	// shared by HandshakeAck / ActivateResult
	Reason string `json:"reason,omitempty"`

	// Activate / ActivateResult / Cancel / Ping / Pong
	RequestID string `json:"request_id,omitempty"`

	// Activate
	TriggerTag string `json:"trigger_tag,omitempty"`

	// ActivateResult
	OK             bool   `json:"ok,omitempty"`
	DurationMillis uint32 `json:"duration_millis,omitempty"`

	// Log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// protocolMismatchReason is the well-known HandshakeAck reason a worker must
// use when it cannot negotiate a shared protocol version.
const protocolMismatchReason = "protocol_mismatch"

// encodeFrame serialises a message to its line-framed wire representation:
// a single JSON object followed by a line feed. json.Marshal escapes
// newlines inside string fields, so the encoded object never contains a
// literal line feed of its own.
func encodeFrame(msg WireMessage) ([]byte, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode wire message: %w", err)
	}
	encoded = append(encoded, '\n')
	return encoded, nil
}

// decodeFrame parses a single line of the wire protocol. A line that does
// not parse as a JSON object is a ProtocolViolation.
func decodeFrame(line []byte) (WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return WireMessage{}, NewRuntimeError(CodeProtocolViolation, "unparseable wire frame: "+err.Error())
	}
	if msg.Kind == "" {
		return WireMessage{}, NewRuntimeError(CodeProtocolViolation, "wire frame missing kind discriminator")
	}
	return msg, nil
}

// frameWriter serialises WireMessages onto an underlying stream, one frame
// per line.
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

func (f *frameWriter) Write(msg WireMessage) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	if _, err := f.w.Write(frame); err != nil {
		return NewRuntimeError(CodeTransportIo, "write wire frame failed: "+err.Error())
	}
	return nil
}

// frameReader reads WireMessages from an underlying stream, one per line,
// tolerating blank lines between frames.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &frameReader{scanner: scanner}
}

// Read blocks until the next non-blank line is available, EOF is reached,
// or the underlying scanner errors.
func (f *frameReader) Read() (WireMessage, error) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return decodeFrame(line)
	}
	if err := f.scanner.Err(); err != nil {
		return WireMessage{}, NewRuntimeError(CodeTransportIo, "read wire frame failed: "+err.Error())
	}
	return WireMessage{}, io.EOF
}

func toCapabilities(tags []string) []Capability {
	caps := make([]Capability, len(tags))
	for i, tag := range tags {
		caps[i] = Capability(tag)
	}
	return caps
}

func toCapabilityTags(caps []Capability) []string {
	tags := make([]string, len(caps))
	for i, c := range caps {
		tags[i] = string(c)
	}
	return tags
}
