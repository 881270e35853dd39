// Package plugin implements the plugin runtime host: a process launcher and
// framed-message client for untrusted plugin workers, a capability policy
// gate, a reusable session cache, and the registry that drives plugin
// lifecycle state in response to triggers.
package plugin

import (
	"sort"
	"strings"
)

// Capability is an opaque permission token a plugin declares or a worker
// reports at handshake time. The host never interprets the string itself;
// it only checks membership against a policy's allow-set.
type Capability string

// ActivationEvent names an event the host broadcasts to candidate plugins.
// Commands are represented as "on_command:<cmd_id>" via OnCommand.
type ActivationEvent string

const (
	OnStartupFinished ActivationEvent = "on_startup_finished"
	OnVaultOpened     ActivationEvent = "on_vault_opened"
)

// OnCommand builds the activation event tag for a specific command id.
func OnCommand(cmdID string) ActivationEvent {
	return ActivationEvent("on_command:" + cmdID)
}

// PluginManifest is the immutable identity and static declaration of a
// plugin, as supplied at registration time.
type PluginManifest struct {
	ID                   string
	Name                 string
	Version              string
	ActivationEvents     []ActivationEvent
	DeclaredCapabilities []Capability
	// Command is the OS command line used to launch the worker. An empty
	// Command means "use the default worker binary" (see WorkerResolver).
	Command []string
}

// SortedCapabilities returns the manifest's declared capabilities sorted
// and deduplicated, the canonical form used to derive a session key.
func (m PluginManifest) SortedCapabilities() []string {
	return sortedCapabilityTags(m.DeclaredCapabilities)
}

func sortedCapabilityTags(caps []Capability) []string {
	seen := make(map[string]struct{}, len(caps))
	tags := make([]string, 0, len(caps))
	for _, c := range caps {
		tag := string(c)
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// SessionKey derives the deterministic cache key for a manifest: identical
// id, version and declared-capability set share a key.
func (m PluginManifest) SessionKey() string {
	return m.ID + ":" + m.Version + ":" + strings.Join(m.SortedCapabilities(), ",")
}

// MatchesTrigger reports whether the manifest's activation events include
// the given trigger tag.
func (m PluginManifest) MatchesTrigger(trigger ActivationEvent) bool {
	for _, event := range m.ActivationEvents {
		if event == trigger {
			return true
		}
	}
	return false
}

// LifecycleState names the position of a plugin in the activation state
// machine.
type LifecycleState string

const (
	StateRegistered LifecycleState = "registered"
	StateActivating LifecycleState = "activating"
	StateActive     LifecycleState = "active"
	StateCancelled  LifecycleState = "cancelled"
	StateFailed     LifecycleState = "failed"
	StateDisabled   LifecycleState = "disabled"
)

// PluginState is the tagged value a registry tracks per plugin: the
// lifecycle state plus, for Failed, the error that caused it.
type PluginState struct {
	State    LifecycleState
	LastFail *RuntimeError
}

// RuntimeMetrics accumulates per-plugin activation statistics.
type RuntimeMetrics struct {
	ActivationAttempts    int
	Successes             int
	Failures              int
	TotalActivationMillis int64
	LastActivationMillis  int64
}

// PluginRecord is the registry's owned view of a registered plugin.
type PluginRecord struct {
	Manifest PluginManifest
	State    PluginState
	Metrics  RuntimeMetrics
}
