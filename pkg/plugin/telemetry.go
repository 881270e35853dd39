package plugin

import "sync"

// Telemetry holds monotonically non-decreasing counters, each incremented
// at exactly one well-defined point in the activation engine. A plain
// struct plus mutex rather than a metrics library, matching the
// mutex-guarded in-house counter style used elsewhere in this codebase's
// HTTP surfaces.
type Telemetry struct {
	mu sync.Mutex

	spawnCount              uint64
	handshakeCount          uint64
	activationRequestCount  uint64
	reusedSessionCount      uint64
	sessionPingFailureCount uint64
	evictedByLimitCount     uint64
	evictedByIdleTTLCount   uint64
}

// RuntimeTelemetry is an immutable copy of Telemetry's counters at a point
// in time.
type RuntimeTelemetry struct {
	SpawnCount              uint64
	HandshakeCount          uint64
	ActivationRequestCount  uint64
	ReusedSessionCount      uint64
	SessionPingFailureCount uint64
	EvictedByLimitCount     uint64
	EvictedByIdleTTLCount   uint64
}

func (t *Telemetry) incSpawn()              { t.mu.Lock(); t.spawnCount++; t.mu.Unlock() }
func (t *Telemetry) incHandshake()          { t.mu.Lock(); t.handshakeCount++; t.mu.Unlock() }
func (t *Telemetry) incActivationRequest()  { t.mu.Lock(); t.activationRequestCount++; t.mu.Unlock() }
func (t *Telemetry) incReusedSession()      { t.mu.Lock(); t.reusedSessionCount++; t.mu.Unlock() }
func (t *Telemetry) incSessionPingFailure() { t.mu.Lock(); t.sessionPingFailureCount++; t.mu.Unlock() }
func (t *Telemetry) incEvictedByLimit()     { t.mu.Lock(); t.evictedByLimitCount++; t.mu.Unlock() }
func (t *Telemetry) incEvictedByIdleTTL()   { t.mu.Lock(); t.evictedByIdleTTLCount++; t.mu.Unlock() }

// Snapshot returns a copy of every counter.
func (t *Telemetry) Snapshot() RuntimeTelemetry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RuntimeTelemetry{
		SpawnCount:              t.spawnCount,
		HandshakeCount:          t.handshakeCount,
		ActivationRequestCount:  t.activationRequestCount,
		ReusedSessionCount:      t.reusedSessionCount,
		SessionPingFailureCount: t.sessionPingFailureCount,
		EvictedByLimitCount:     t.evictedByLimitCount,
		EvictedByIdleTTLCount:   t.evictedByIdleTTLCount,
	}
}
