// Command xnote-plugin-worker is the minimal reference implementation of
// the runtime side of the plugin wire protocol: it answers handshakes,
// pings and activations on its standard streams, with a handful of
// environment variables letting tests script its behaviour.
package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil && err != io.EOF {
		log.Fatalf("xnote-plugin-worker exited: %v", err)
	}
}

type wireMessage struct {
	Kind string `json:"kind"`

	ProtocolVersion           uint32   `json:"protocol_version,omitempty"`
	PluginID                  string   `json:"plugin_id,omitempty"`
	PluginVersion             string   `json:"plugin_version,omitempty"`
	DeclaredCapabilities      []string `json:"declared_capabilities,omitempty"`
	SupportedProtocolVersions []uint32 `json:"supported_protocol_versions,omitempty"`

	Accepted                  bool     `json:"accepted,omitempty"`
	NegotiatedProtocolVersion uint32   `json:"negotiated_protocol_version,omitempty"`
	ReportedCapabilities      []string `json:"reported_capabilities,omitempty"`

	Reason string `json:"reason,omitempty"`

	RequestID  string `json:"request_id,omitempty"`
	TriggerTag string `json:"trigger_tag,omitempty"`

	OK             bool   `json:"ok,omitempty"`
	DurationMillis uint32 `json:"duration_millis,omitempty"`
}

// scriptedBehavior is the YAML shape of a fixture file loaded via
// XNOTE_PLUGIN_WORKER_SCRIPT, letting a test drive the worker's behaviour
// from a declarative file instead of a handful of separate env vars.
type scriptedBehavior struct {
	DelayMillis          int      `yaml:"delayMillis"`
	ActivateOK           bool     `yaml:"activateOk"`
	ProtocolVersion      *uint32  `yaml:"protocolVersion"`
	ReportedCapabilities []string `yaml:"reportedCapabilities"`
}

func loadScriptedBehavior(path string) (scriptedBehavior, bool, error) {
	if path == "" {
		return scriptedBehavior{}, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return scriptedBehavior{}, false, err
	}
	var behavior scriptedBehavior
	if err := yaml.Unmarshal(raw, &behavior); err != nil {
		return scriptedBehavior{}, false, err
	}
	return behavior, true, nil
}

func run(in io.Reader, out io.Writer) error {
	delayMillis := envInt("XNOTE_PLUGIN_WORKER_DELAY_MS", 0)
	activateOK := envBool("XNOTE_PLUGIN_WORKER_ACTIVATE_OK", true)
	protocolOverride, hasProtocolOverride := envUint32("XNOTE_PLUGIN_WORKER_PROTOCOL_VERSION")
	reportedOverride := envCapabilities("XNOTE_PLUGIN_WORKER_REPORTED_CAPS")
	timeoutMillis := envInt("XNOTE_PLUGIN_TIMEOUT_MS", 0)

	if behavior, ok, err := loadScriptedBehavior(os.Getenv("XNOTE_PLUGIN_WORKER_SCRIPT")); err != nil {
		return err
	} else if ok {
		delayMillis = behavior.DelayMillis
		activateOK = behavior.ActivateOK
		if behavior.ProtocolVersion != nil {
			protocolOverride, hasProtocolOverride = *behavior.ProtocolVersion, true
		}
		if len(behavior.ReportedCapabilities) > 0 {
			reportedOverride = behavior.ReportedCapabilities
		}
	}

	seenHandshake := false
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return err
		}

		switch msg.Kind {
		case "handshake":
			seenHandshake = true
			selected := selectProtocolVersion(msg.ProtocolVersion, msg.SupportedProtocolVersions)
			if hasProtocolOverride {
				selected = protocolOverride
			}
			reported := msg.DeclaredCapabilities
			if reportedOverride != nil {
				reported = reportedOverride
			}
			ack := wireMessage{
				Kind:                      "handshake_ack",
				Accepted:                  true,
				NegotiatedProtocolVersion: selected,
				ReportedCapabilities:      reported,
			}
			if err := writeMessage(out, ack); err != nil {
				return err
			}

		case "activate":
			if !seenHandshake {
				return io.EOF
			}
			if delayMillis > 0 {
				sleepMillis := delayMillis
				if ceiling := timeoutMillis * 3; ceiling > 0 && sleepMillis > ceiling {
					sleepMillis = ceiling
				}
				time.Sleep(time.Duration(sleepMillis) * time.Millisecond)
			}
			result := wireMessage{
				Kind:           "activate_result",
				RequestID:      msg.RequestID,
				OK:             activateOK,
				DurationMillis: uint32(delayMillis),
			}
			if !activateOK {
				result.Reason = "worker activation failed"
			}
			if err := writeMessage(out, result); err != nil {
				return err
			}

		case "ping":
			if !seenHandshake {
				return io.EOF
			}
			if err := writeMessage(out, wireMessage{Kind: "pong", RequestID: msg.RequestID}); err != nil {
				return err
			}

		case "cancel":
			return nil

		default:
			// handshake_ack, activate_result, pong, log: not expected
			// inbound, ignored for forward compatibility.
		}
	}
	return scanner.Err()
}

func selectProtocolVersion(requested uint32, supported []uint32) uint32 {
	for _, v := range supported {
		if v == requested {
			return requested
		}
	}
	var max uint32
	for _, v := range supported {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return requested
	}
	return max
}

func writeMessage(out io.Writer, msg wireMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	_, err = out.Write(encoded)
	return err
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	return raw == "1" || strings.EqualFold(raw, "true")
}

func envUint32(name string) (uint32, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func envCapabilities(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
