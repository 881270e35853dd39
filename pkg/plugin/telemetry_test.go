package plugin

import (
	"sync"
	"testing"
)

func TestTelemetrySnapshotReflectsIncrements(t *testing.T) {
	telemetry := &Telemetry{}

	telemetry.incSpawn()
	telemetry.incHandshake()
	telemetry.incHandshake()
	telemetry.incActivationRequest()
	telemetry.incReusedSession()
	telemetry.incSessionPingFailure()
	telemetry.incEvictedByLimit()
	telemetry.incEvictedByIdleTTL()

	got := telemetry.Snapshot()
	want := RuntimeTelemetry{
		SpawnCount:              1,
		HandshakeCount:          2,
		ActivationRequestCount:  1,
		ReusedSessionCount:      1,
		SessionPingFailureCount: 1,
		EvictedByLimitCount:     1,
		EvictedByIdleTTLCount:   1,
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestTelemetryCountersAreMonotonicUnderConcurrency(t *testing.T) {
	telemetry := &Telemetry{}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.incSpawn()
		}()
	}
	wg.Wait()

	if got := telemetry.Snapshot().SpawnCount; got != 100 {
		t.Fatalf("expected 100 spawns recorded, got %d", got)
	}
}
