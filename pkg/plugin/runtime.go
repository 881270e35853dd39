package plugin

import (
	"context"
	"sync"
	"time"
)

// Runtime is the shared runtime object with interior mutability: the
// registry, session cache and telemetry are three independently lockable
// containers owned by one value, constructed once and passed around as a
// pointer. There is no package-level mutable state.
type Runtime struct {
	registry  *Registry
	cache     *SessionCache
	telemetry *Telemetry
	engine    *ActivationEngine

	mu     sync.RWMutex
	policy Policy

	closed bool
}

// New builds a Runtime. spawn determines how sessions are launched; pass a
// Spawner built from ScriptedTransport in tests to avoid forking real
// processes, or use NewProcessRuntime for real worker processes.
func New(policy Policy, spawn Spawner) *Runtime {
	policy = policy.Normalize()

	telemetry := &Telemetry{}
	cache := NewSessionCache(policy.MaxKeepAliveSessions, time.Duration(policy.SessionIdleTTLMillis)*time.Millisecond,
		telemetry.incEvictedByLimit, telemetry.incEvictedByIdleTTL)
	engine := NewActivationEngine(cache, telemetry, spawn)

	return &Runtime{
		registry:  NewRegistry(),
		cache:     cache,
		telemetry: telemetry,
		engine:    engine,
		policy:    policy,
	}
}

// NewProcessRuntime builds a Runtime that launches workers as real OS
// processes, resolved via resolver.
func NewProcessRuntime(policy Policy, resolver *WorkerResolver) *Runtime {
	return New(policy, ProcessSpawner(resolver))
}

// SetPolicy swaps the effective policy, normalising it first. Used by a
// PolicySource collaborator pushing an updated snapshot.
func (rt *Runtime) SetPolicy(policy Policy) {
	policy = policy.Normalize()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.policy = policy
	rt.cache.maxSessions = policy.MaxKeepAliveSessions
	rt.cache.idleTTL = time.Duration(policy.SessionIdleTTLMillis) * time.Millisecond
}

// Policy returns the runtime's current effective policy.
func (rt *Runtime) Policy() Policy {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.policy
}

// Register adds manifest to the registry.
func (rt *Runtime) Register(manifest PluginManifest) error {
	return rt.registry.Register(manifest)
}

// List returns every registered plugin id, sorted.
func (rt *Runtime) List() []string {
	return rt.registry.List()
}

// LifecycleState returns id's current lifecycle state.
func (rt *Runtime) LifecycleState(id string) (PluginState, bool) {
	return rt.registry.LifecycleState(id)
}

// RuntimeMetrics returns id's accumulated activation metrics.
func (rt *Runtime) RuntimeMetrics(id string) (RuntimeMetrics, bool) {
	return rt.registry.RuntimeMetrics(id)
}

// ActiveSessionsSnapshot returns every cached session sorted by key.
func (rt *Runtime) ActiveSessionsSnapshot() []SessionSnapshot {
	return rt.cache.snapshot(time.Now())
}

// TelemetrySnapshot returns a copy of the telemetry counters.
func (rt *Runtime) TelemetrySnapshot() RuntimeTelemetry {
	return rt.telemetry.Snapshot()
}

// Reset clears a Failed/Cancelled/Disabled plugin back to Registered.
func (rt *Runtime) Reset(id string) error {
	return rt.registry.Reset(id)
}

// Trigger applies trigger to every candidate plugin: those whose
// activation_events include the tag and whose state allows activation.
// Each candidate is activated with its own context derived from ctx and
// the effective policy's activation timeout.
func (rt *Runtime) Trigger(ctx context.Context, trigger ActivationEvent) {
	policy := rt.Policy()
	for _, c := range rt.registry.candidatesFor(trigger) {
		if !rt.registry.beginActivating(c.id) {
			continue
		}
		rt.runActivation(ctx, c.manifest, trigger, policy)
	}
}

// TriggerOne activates a single plugin by id if its state allows it,
// returning false if the trigger was a no-op (unknown id, Activating, or
// Disabled).
func (rt *Runtime) TriggerOne(ctx context.Context, id string, trigger ActivationEvent) bool {
	manifest, ok := rt.registry.Manifest(id)
	if !ok {
		return false
	}
	if !rt.registry.beginActivating(id) {
		return false
	}
	policy := rt.Policy()
	rt.runActivation(ctx, manifest, trigger, policy)
	return true
}

func (rt *Runtime) runActivation(ctx context.Context, manifest PluginManifest, trigger ActivationEvent, policy Policy) {
	activateCtx, cancel := context.WithTimeout(ctx, time.Duration(policy.ActivationTimeoutMillis)*time.Millisecond)
	defer cancel()

	outcome := rt.engine.Activate(activateCtx, manifest, trigger, policy)
	rt.registry.completeActivation(manifest.ID, outcome, policy)
}

// Close terminates every cached transport. Dropping the runtime must
// terminate every transport before returning; Close is the explicit
// equivalent in a garbage-collected language.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	rt.mu.Unlock()
	rt.cache.closeAll()
}
