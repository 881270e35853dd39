package plugin

import (
	"context"
	"testing"
	"time"
)

// scriptedSpawner returns a Spawner that hands out transports from queue in
// order, one per call, for tests that need to observe a fresh worker being
// launched more than once.
func scriptedSpawner(transports ...*ScriptedTransport) Spawner {
	i := 0
	return func(ctx context.Context, manifest PluginManifest, trigger ActivationEvent, timeoutMillis int) (Transport, error) {
		if i >= len(transports) {
			return nil, NewRuntimeError(CodeSpawnFailed, "scripted spawner exhausted")
		}
		t := transports[i]
		i++
		return t, nil
	}
}

// cooperativeTransport builds a ScriptedTransport that answers handshakes,
// pings and activations the way a well-behaved worker would.
func cooperativeTransport() *ScriptedTransport {
	ts := NewScriptedTransport()
	ts.OnSend = func(msg WireMessage) (WireMessage, bool) {
		switch msg.Kind {
		case KindHandshake:
			return WireMessage{
				Kind:                      KindHandshakeAck,
				Accepted:                  true,
				NegotiatedProtocolVersion: msg.ProtocolVersion,
				ReportedCapabilities:      msg.DeclaredCapabilities,
			}, true
		case KindPing:
			return WireMessage{Kind: KindPong, RequestID: msg.RequestID}, true
		case KindActivate:
			return WireMessage{Kind: KindActivateResult, RequestID: msg.RequestID, OK: true, DurationMillis: 5}, true
		default:
			return WireMessage{}, false
		}
	}
	return ts
}

func demoManifest() PluginManifest {
	return PluginManifest{
		ID:                   "demo",
		Name:                 "Demo",
		Version:              "1.0.0",
		ActivationEvents:     []ActivationEvent{OnStartupFinished},
		DeclaredCapabilities: []Capability{"fs.read"},
	}
}

func TestEngineActivateHappyPath(t *testing.T) {
	ts := cooperativeTransport()
	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(ts))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}}.Normalize()
	outcome := engine.Activate(context.Background(), demoManifest(), OnStartupFinished, policy)

	if outcome.Status != ActivationReady {
		t.Fatalf("expected ActivationReady, got %+v", outcome)
	}
	snap := telemetry.Snapshot()
	if snap.SpawnCount != 1 || snap.HandshakeCount != 1 || snap.ActivationRequestCount != 1 {
		t.Fatalf("unexpected telemetry: %+v", snap)
	}
}

func TestEngineReusesHealthySession(t *testing.T) {
	ts := cooperativeTransport()
	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(ts))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}, KeepAliveSession: true}.Normalize()
	manifest := demoManifest()

	first := engine.Activate(context.Background(), manifest, OnStartupFinished, policy)
	if first.Status != ActivationReady {
		t.Fatalf("expected first activation ready, got %+v", first)
	}

	second := engine.Activate(context.Background(), manifest, OnStartupFinished, policy)
	if second.Status != ActivationReady {
		t.Fatalf("expected second activation ready, got %+v", second)
	}

	snap := telemetry.Snapshot()
	if snap.SpawnCount != 1 {
		t.Fatalf("expected exactly one spawn across both activations, got %d", snap.SpawnCount)
	}
	if snap.ReusedSessionCount != 1 {
		t.Fatalf("expected exactly one reused session, got %d", snap.ReusedSessionCount)
	}
}

func TestEngineRespawnsWhenCachedWorkerIsDead(t *testing.T) {
	dead := cooperativeTransport()
	replacement := cooperativeTransport()
	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(dead, replacement))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}, KeepAliveSession: true}.Normalize()
	manifest := demoManifest()

	first := engine.Activate(context.Background(), manifest, OnStartupFinished, policy)
	if first.Status != ActivationReady {
		t.Fatalf("expected first activation ready, got %+v", first)
	}

	dead.HangRecv()
	second := engine.Activate(context.Background(), manifest, OnStartupFinished, policy)
	if second.Status != ActivationReady {
		t.Fatalf("expected second activation to recover via respawn, got %+v", second)
	}

	snap := telemetry.Snapshot()
	if snap.SpawnCount != 2 {
		t.Fatalf("expected two spawns (initial plus respawn), got %d", snap.SpawnCount)
	}
	if snap.SessionPingFailureCount != 1 {
		t.Fatalf("expected one ping failure detecting the dead worker, got %d", snap.SessionPingFailureCount)
	}
	if !dead.Terminated() {
		t.Fatal("expected the dead transport to be terminated")
	}
}

func TestEngineRejectsCapabilityBeyondPolicy(t *testing.T) {
	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner())

	policy := Policy{AllowedCapabilities: []Capability{"net.connect"}}.Normalize()
	outcome := engine.Activate(context.Background(), demoManifest(), OnStartupFinished, policy)

	if outcome.Status != ActivationFailed {
		t.Fatalf("expected ActivationFailed, got %+v", outcome)
	}
	if outcome.Err == nil || outcome.Err.Code != CodeCapabilityViolation {
		t.Fatalf("expected CapabilityViolation, got %+v", outcome.Err)
	}
	if telemetry.Snapshot().SpawnCount != 0 {
		t.Fatal("expected the capability pre-check to reject before any spawn")
	}
}

func TestEngineActivateTimesOutWhenWorkerNeverReplies(t *testing.T) {
	ts := NewScriptedTransport()
	ts.OnSend = func(msg WireMessage) (WireMessage, bool) {
		if msg.Kind == KindHandshake {
			return WireMessage{Kind: KindHandshakeAck, Accepted: true, NegotiatedProtocolVersion: 1, ReportedCapabilities: msg.DeclaredCapabilities}, true
		}
		return WireMessage{}, false
	}

	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(ts))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}, ActivationTimeoutMillis: 100}.Normalize()
	outcome := engine.Activate(context.Background(), demoManifest(), OnStartupFinished, policy)

	if outcome.Status != ActivationCancelled {
		t.Fatalf("expected ActivationCancelled on timeout, got %+v", outcome)
	}
	sent := ts.SentMessages()
	if len(sent) == 0 || sent[len(sent)-1].Kind != KindCancel {
		t.Fatalf("expected a best-effort cancel to be sent, got %+v", sent)
	}
}

func TestEngineActivationRejectedKeepsTransportAlive(t *testing.T) {
	ts := NewScriptedTransport()
	ts.OnSend = func(msg WireMessage) (WireMessage, bool) {
		switch msg.Kind {
		case KindHandshake:
			return WireMessage{Kind: KindHandshakeAck, Accepted: true, NegotiatedProtocolVersion: 1, ReportedCapabilities: msg.DeclaredCapabilities}, true
		case KindActivate:
			return WireMessage{Kind: KindActivateResult, RequestID: msg.RequestID, OK: false, Reason: "not ready"}, true
		default:
			return WireMessage{}, false
		}
	}

	cache := NewSessionCache(8, time.Hour, nil, nil)
	telemetry := &Telemetry{}
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(ts))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}, KeepAliveSession: true}.Normalize()
	outcome := engine.Activate(context.Background(), demoManifest(), OnStartupFinished, policy)

	if outcome.Status != ActivationFailed || outcome.Err.Code != CodeActivationRejected {
		t.Fatalf("expected ActivationRejected mapped to Failed, got %+v", outcome)
	}
	if ts.Terminated() {
		t.Fatal("expected the session to survive an application-level rejection")
	}
	if cache.get(demoManifest().SessionKey()) == nil {
		t.Fatal("expected the rejected session to remain cached for reuse")
	}
}

func TestEngineFillsCacheAndEvictsByLimit(t *testing.T) {
	telemetry := &Telemetry{}
	cache := NewSessionCache(1, time.Hour, telemetry.incEvictedByLimit, telemetry.incEvictedByIdleTTL)

	first := cooperativeTransport()
	second := cooperativeTransport()
	engine := NewActivationEngine(cache, telemetry, scriptedSpawner(first, second))

	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}, KeepAliveSession: true}.Normalize()

	m1 := demoManifest()
	m2 := demoManifest()
	m2.ID = "demo-2"

	if out := engine.Activate(context.Background(), m1, OnStartupFinished, policy); out.Status != ActivationReady {
		t.Fatalf("expected first activation ready, got %+v", out)
	}
	if out := engine.Activate(context.Background(), m2, OnStartupFinished, policy); out.Status != ActivationReady {
		t.Fatalf("expected second activation ready, got %+v", out)
	}

	if telemetry.Snapshot().EvictedByLimitCount != 1 {
		t.Fatalf("expected one capacity eviction, got %d", telemetry.Snapshot().EvictedByLimitCount)
	}
	if !first.Terminated() {
		t.Fatal("expected the first plugin's session to be evicted once capacity is exceeded")
	}
}
