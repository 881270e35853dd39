package plugin

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xnote-app/plugin-runtime/pkg/logger"
)

// Spawner produces a fresh Transport for manifest, already past the point
// of process creation — the one seam the engine needs to be agnostic about
// whether a real child process or a scripted test double backs a session.
type Spawner func(ctx context.Context, manifest PluginManifest, trigger ActivationEvent, timeoutMillis int) (Transport, error)

// ProcessSpawner builds the production Spawner: resolve the worker
// executable via resolver, then launch it with environment variables naming
// the plugin, version and trigger it is being activated for, plus the
// activation timeout. The reference worker reads only the timeout.
func ProcessSpawner(resolver *WorkerResolver) Spawner {
	return func(ctx context.Context, manifest PluginManifest, trigger ActivationEvent, timeoutMillis int) (Transport, error) {
		command, err := resolver.Resolve(manifest)
		if err != nil {
			return nil, err
		}
		if len(command) == 0 {
			return nil, NewRuntimeError(CodeInvalidConfig, "worker command is empty")
		}
		env := []string{
			"XNOTE_PLUGIN_ID=" + manifest.ID,
			"XNOTE_PLUGIN_VERSION=" + manifest.Version,
			"XNOTE_PLUGIN_TRIGGER=" + string(trigger),
			fmt.Sprintf("XNOTE_PLUGIN_TIMEOUT_MS=%d", timeoutMillis),
		}
		return SpawnProcess(ctx, command, env)
	}
}

// ActivationStatus names the terminal outcome of one Activate call, which
// the registry maps onto the lifecycle state machine.
type ActivationStatus string

const (
	ActivationReady     ActivationStatus = "ready"
	ActivationCancelled ActivationStatus = "cancelled"
	ActivationFailed    ActivationStatus = "failed"
)

// ActivationOutcome is the result of one Activate call.
type ActivationOutcome struct {
	Status         ActivationStatus
	DurationMillis int64
	Err            *RuntimeError
}

// ActivationEngine drives the spawn-or-reuse, handshake, negotiate,
// activate, timeout/cancel algorithm. It holds no per-plugin state itself:
// manifest and policy are supplied on every call, and the only state it
// owns is the session cache, telemetry counters, and the monotonic
// request-id sequence.
type ActivationEngine struct {
	cache      *SessionCache
	telemetry  *Telemetry
	spawn      Spawner
	requestSeq atomic.Uint64
}

// NewActivationEngine builds an engine against a shared cache, telemetry
// sink and spawner.
func NewActivationEngine(cache *SessionCache, telemetry *Telemetry, spawn Spawner) *ActivationEngine {
	return &ActivationEngine{cache: cache, telemetry: telemetry, spawn: spawn}
}

// nextRequestID issues a request id unique and monotonically increasing
// within this engine: "{prefix}-{plugin_id}-{sequence}".
func (e *ActivationEngine) nextRequestID(prefix, pluginID string) string {
	seq := e.requestSeq.Add(1)
	return fmt.Sprintf("%s-%s-%d", prefix, pluginID, seq)
}

// Activate runs one activation attempt for manifest in response to
// trigger, under policy. ctx carries both deadline and caller-initiated
// cancellation; both are treated identically.
func (e *ActivationEngine) Activate(ctx context.Context, manifest PluginManifest, trigger ActivationEvent, policy Policy) (outcome ActivationOutcome) {
	start := time.Now()
	correlationID := uuid.NewString()
	defer func() {
		logger.Audit().Info("plugin activation",
			"correlation_id", correlationID, "plugin_id", manifest.ID,
			"trigger", string(trigger), "status", string(outcome.Status),
			"duration_millis", outcome.DurationMillis)
	}()

	// Step 1: pre-check against the manifest's own declared capabilities.
	if err := checkAllowed(manifest.DeclaredCapabilities, policy); err != nil {
		return failedOutcome(err, start)
	}

	key := manifest.SessionKey()

	// Serialise concurrent activations on the same session key.
	unlock := e.cache.lockKey(key)
	defer unlock()

	if policy.KeepAliveSession {
		e.cache.sweepIdle(time.Now())
	}

	deadline := start.Add(time.Duration(policy.ActivationTimeoutMillis) * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	transport, handshakeNeeded, err := e.acquireTransport(ctx, manifest, key, trigger, policy)
	if err != nil {
		return failedOutcome(err, start)
	}

	if handshakeNeeded {
		if err := e.handshake(transport, manifest, policy, deadline); err != nil {
			transport.Terminate()
			e.cache.evict(key)
			return outcomeForHandshakeError(err, start)
		}
		e.telemetry.incHandshake()
	}

	result, err := e.activate(ctx, transport, manifest, trigger, deadline)
	if err != nil {
		if isCancellation(ctx, err) {
			transport.Terminate()
			e.cache.evict(key)
			return ActivationOutcome{Status: ActivationCancelled, DurationMillis: time.Since(start).Milliseconds()}
		}
		transport.Terminate()
		e.cache.evict(key)
		return failedOutcome(err, start)
	}

	now := time.Now()
	if result.OK {
		e.cache.insert(key, transport, now)
		e.cache.touch(key, now)
		return ActivationOutcome{Status: ActivationReady, DurationMillis: int64(result.DurationMillis)}
	}

	// ActivationRejected: the worker itself is healthy, so the session may
	// be kept alive; the reject is an application-level outcome.
	e.cache.insert(key, transport, now)
	e.cache.touch(key, now)
	return failedOutcome(NewRuntimeError(CodeActivationRejected, result.Reason), start)
}

// acquireTransport reuses a cached, healthy session if keep-alive is on and
// the cache has one, otherwise spawns a fresh worker. It returns whether a
// handshake is still required on the returned transport.
func (e *ActivationEngine) acquireTransport(ctx context.Context, manifest PluginManifest, key string, trigger ActivationEvent, policy Policy) (Transport, bool, error) {
	if policy.KeepAliveSession {
		if s := e.cache.get(key); s != nil {
			if e.probeHealth(s.transport, manifest.ID, policy) {
				e.telemetry.incReusedSession()
				return s.transport, false, nil
			}
			e.telemetry.incSessionPingFailure()
			s.transport.Terminate()
			e.cache.evict(key)
		}
	}

	transport, err := e.spawn(ctx, manifest, trigger, policy.ActivationTimeoutMillis)
	if err != nil {
		return nil, false, err
	}
	e.telemetry.incSpawn()
	return transport, true, nil
}

// probeHealth sends a Ping and waits for a matching Pong within
// session_ping_timeout_millis.
func (e *ActivationEngine) probeHealth(transport Transport, pluginID string, policy Policy) bool {
	reqID := e.nextRequestID("ping", pluginID)
	if err := transport.Send(WireMessage{Kind: KindPing, RequestID: reqID}); err != nil {
		return false
	}
	deadline := time.Now().Add(time.Duration(policy.SessionPingTimeoutMillis) * time.Millisecond)
	msg, err := transport.Recv(deadline)
	if err != nil {
		return false
	}
	return msg.Kind == KindPong && msg.RequestID == reqID
}

// handshake negotiates a protocol version with the worker and validates
// the capabilities it reports against both the manifest's own declarations
// and the effective policy.
func (e *ActivationEngine) handshake(transport Transport, manifest PluginManifest, policy Policy, deadline time.Time) error {
	req := WireMessage{
		Kind:                      KindHandshake,
		ProtocolVersion:           policy.SupportedProtocolVersions[0],
		PluginID:                  manifest.ID,
		PluginVersion:             manifest.Version,
		DeclaredCapabilities:      toCapabilityTags(manifest.DeclaredCapabilities),
		SupportedProtocolVersions: policy.SupportedProtocolVersions,
	}
	if err := transport.Send(req); err != nil {
		return NewRuntimeError(CodeTransportIo, "send handshake: "+err.Error())
	}

	msg, err := transport.Recv(deadline)
	if err != nil {
		if IsTimeout(err) {
			return NewRuntimeError(CodeProtocolViolation, "handshake timed out")
		}
		return err
	}
	if msg.Kind != KindHandshakeAck {
		return NewRuntimeError(CodeProtocolViolation, "expected handshake_ack, got "+string(msg.Kind))
	}
	if !msg.Accepted {
		if msg.Reason == protocolMismatchReason {
			return NewRuntimeError(CodeProtocolMismatch, "worker rejected handshake: no shared protocol version")
		}
		return NewRuntimeError(CodeHandshakeRejected, "worker rejected handshake: "+msg.Reason)
	}

	reported := toCapabilities(msg.ReportedCapabilities)
	if err := checkSubset(reported, manifest.DeclaredCapabilities); err != nil {
		return err
	}
	if err := checkAllowed(reported, policy); err != nil {
		return err
	}
	return nil
}

// activateResult is the parsed outcome of an Activate/ActivateResult
// exchange.
type activateResult struct {
	OK             bool
	Reason         string
	DurationMillis uint32
}

// activate sends the Activate request and waits for its matching
// ActivateResult, forwarding interleaved Log frames to the host logger.
func (e *ActivationEngine) activate(ctx context.Context, transport Transport, manifest PluginManifest, trigger ActivationEvent, deadline time.Time) (activateResult, error) {
	reqID := e.nextRequestID("act", manifest.ID)
	req := WireMessage{Kind: KindActivate, RequestID: reqID, TriggerTag: string(trigger)}
	if err := transport.Send(req); err != nil {
		return activateResult{}, NewRuntimeError(CodeTransportIo, "send activate: "+err.Error())
	}
	e.telemetry.incActivationRequest()

	for {
		select {
		case <-ctx.Done():
			e.sendCancelBestEffort(transport, reqID)
			return activateResult{}, ctx.Err()
		default:
		}

		recvDeadline := deadline
		if time.Until(recvDeadline) <= 0 {
			e.sendCancelBestEffort(transport, reqID)
			return activateResult{}, errRecvTimeout
		}

		msg, err := transport.Recv(recvDeadline)
		if err != nil {
			if IsTimeout(err) {
				e.sendCancelBestEffort(transport, reqID)
				return activateResult{}, err
			}
			return activateResult{}, err
		}

		switch msg.Kind {
		case KindActivateResult:
			if msg.RequestID != reqID {
				continue
			}
			return activateResult{OK: msg.OK, Reason: msg.Reason, DurationMillis: msg.DurationMillis}, nil
		case KindLog:
			switch msg.Level {
			case "trace", "debug":
				logger.L().Debug(msg.Message, "plugin_id", manifest.ID)
			case "info":
				logger.L().Info(msg.Message, "plugin_id", manifest.ID)
			case "warn":
				logger.L().Warn(msg.Message, "plugin_id", manifest.ID)
			case "error":
				logger.L().Error(msg.Message, "plugin_id", manifest.ID)
			default:
				logger.L().Warn("dropping worker log frame with unknown level", "plugin_id", manifest.ID, "level", msg.Level)
			}
			continue
		default:
			return activateResult{}, NewRuntimeError(CodeProtocolViolation, "unexpected message awaiting activate_result: "+string(msg.Kind))
		}
	}
}

func (e *ActivationEngine) sendCancelBestEffort(transport Transport, requestID string) {
	_ = transport.Send(WireMessage{Kind: KindCancel, RequestID: requestID})
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return IsTimeout(err)
}

func failedOutcome(err error, start time.Time) ActivationOutcome {
	re, ok := err.(*RuntimeError)
	if !ok {
		re = WrapRuntimeError(CodeTransportIo, err, "activation failed")
	}
	return ActivationOutcome{Status: ActivationFailed, Err: re, DurationMillis: time.Since(start).Milliseconds()}
}

func outcomeForHandshakeError(err error, start time.Time) ActivationOutcome {
	return failedOutcome(err, start)
}
