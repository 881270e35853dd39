package plugin

import "sort"

// RuntimeMode selects how an activation is carried out.
type RuntimeMode string

const (
	// RuntimeModeInProcess is reserved for hosting plugins in-process; the
	// runtime accepts the value but does not read it, and every activation
	// goes through the process-backed engine.
	RuntimeModeInProcess RuntimeMode = "in_process"
	RuntimeModeProcess   RuntimeMode = "process"
)

const currentProtocolVersion uint32 = 1

// Policy is the normalised configuration governing activation behaviour for
// a registry. Values are clamped by Normalize before the registry or engine
// ever reads them.
type Policy struct {
	AllowedCapabilities       []Capability
	MaxFailedActivations      int
	ActivationTimeoutMillis   int
	RuntimeMode               RuntimeMode
	SessionPingTimeoutMillis  int
	MaxKeepAliveSessions      int
	SessionIdleTTLMillis      int
	SupportedProtocolVersions []uint32
	KeepAliveSession          bool
	// CountCancelledAsFailure decides whether a timeout/cancellation-induced
	// Cancelled transition counts against MaxFailedActivations. DefaultPolicy
	// sets it to true; Normalize leaves it as given.
	CountCancelledAsFailure bool
}

// DefaultPolicy returns a Policy with every field at its documented default.
func DefaultPolicy() Policy {
	p := Policy{CountCancelledAsFailure: true}
	return p.Normalize()
}

// Normalize returns a copy of p with every field clamped into its documented
// bounds, filling in defaults for anything left at its zero value.
func (p Policy) Normalize() Policy {
	out := p

	out.ActivationTimeoutMillis = clampInt(out.ActivationTimeoutMillis, 100, 600_000, 5_000)
	out.SessionPingTimeoutMillis = clampInt(out.SessionPingTimeoutMillis, 50, 10_000, 500)
	out.MaxKeepAliveSessions = clampInt(out.MaxKeepAliveSessions, 1, 1_024, 8)
	out.SessionIdleTTLMillis = clampInt(out.SessionIdleTTLMillis, 1_000, 3_600_000, 300_000)
	out.MaxFailedActivations = clampInt(out.MaxFailedActivations, 1, 256, 3)

	if out.RuntimeMode == "" {
		out.RuntimeMode = RuntimeModeProcess
	}

	out.SupportedProtocolVersions = normalizeProtocolVersions(out.SupportedProtocolVersions)

	if out.AllowedCapabilities == nil {
		out.AllowedCapabilities = []Capability{}
	}

	return out
}

// clampInt clamps value into [lo, hi], substituting def when value is zero
// (the JSON "absent" sentinel for every field this function clamps).
func clampInt(value, lo, hi, def int) int {
	if value == 0 {
		value = def
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// normalizeProtocolVersions dedupes and sorts versions descending (most
// preferred first), defaulting to the single current version when empty.
func normalizeProtocolVersions(versions []uint32) []uint32 {
	if len(versions) == 0 {
		return []uint32{currentProtocolVersion}
	}
	seen := make(map[uint32]struct{}, len(versions))
	out := make([]uint32, 0, len(versions))
	for _, v := range versions {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// allows reports whether capability appears in the policy's allow-set.
func (p Policy) allows(capability Capability) bool {
	for _, allowed := range p.AllowedCapabilities {
		if allowed == capability {
			return true
		}
	}
	return false
}
