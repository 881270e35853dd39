package plugin

import "testing"

func manifestFor(id string, events ...ActivationEvent) PluginManifest {
	return PluginManifest{ID: id, Name: id, Version: "1.0.0", ActivationEvents: events}
}

func TestRegistryRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(manifestFor("p1", OnStartupFinished)); err != nil {
		t.Fatalf("unexpected error registering p1: %v", err)
	}
	err := r.Register(manifestFor("p1", OnStartupFinished))
	if _, ok := err.(ErrAlreadyRegistered); !ok {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistryCandidatesForExcludesActivatingAndDisabled(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("active-candidate", OnStartupFinished))
	_ = r.Register(manifestFor("activating", OnStartupFinished))
	_ = r.Register(manifestFor("disabled", OnStartupFinished))
	_ = r.Register(manifestFor("unrelated-event", OnVaultOpened))

	r.beginActivating("activating")
	r.records["disabled"].State = PluginState{State: StateDisabled}

	candidates := r.candidatesFor(OnStartupFinished)
	if len(candidates) != 1 || candidates[0].id != "active-candidate" {
		t.Fatalf("expected only active-candidate, got %+v", candidates)
	}
}

func TestRegistryBeginActivatingIsANoOpWhenAlreadyActivating(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("p1", OnStartupFinished))

	if !r.beginActivating("p1") {
		t.Fatal("expected the first beginActivating to succeed")
	}
	if r.beginActivating("p1") {
		t.Fatal("expected a concurrent beginActivating to be a no-op")
	}
}

func TestRegistryCompleteActivationDisablesAfterMaxFailures(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("p1", OnStartupFinished))
	policy := Policy{MaxFailedActivations: 2}.Normalize()

	for i := 0; i < 2; i++ {
		r.beginActivating("p1")
		r.completeActivation("p1", ActivationOutcome{Status: ActivationFailed, Err: NewRuntimeError(CodeSpawnFailed, "boom")}, policy)
	}

	state, ok := r.LifecycleState("p1")
	if !ok || state.State != StateDisabled {
		t.Fatalf("expected p1 to be disabled after hitting the failure threshold, got %+v", state)
	}
	if state.LastFail == nil || state.LastFail.Code != CodeSpawnFailed {
		t.Fatalf("expected LastFail to carry the terminal error, got %+v", state.LastFail)
	}
}

func TestRegistryCompleteActivationSuccessResetsToActive(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("p1", OnStartupFinished))
	policy := DefaultPolicy()

	r.beginActivating("p1")
	r.completeActivation("p1", ActivationOutcome{Status: ActivationReady, DurationMillis: 12}, policy)

	state, _ := r.LifecycleState("p1")
	if state.State != StateActive {
		t.Fatalf("expected p1 to be active, got %s", state.State)
	}
	metrics, _ := r.RuntimeMetrics("p1")
	if metrics.Successes != 1 || metrics.LastActivationMillis != 12 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestRegistryCompleteActivationCancelledDoesNotCountWhenPolicyOptsOut(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("p1", OnStartupFinished))
	policy := Policy{MaxFailedActivations: 1, CountCancelledAsFailure: false}.Normalize()

	r.beginActivating("p1")
	r.completeActivation("p1", ActivationOutcome{Status: ActivationCancelled}, policy)

	state, _ := r.LifecycleState("p1")
	if state.State != StateCancelled {
		t.Fatalf("expected p1 to be cancelled, got %s", state.State)
	}
	metrics, _ := r.RuntimeMetrics("p1")
	if metrics.Failures != 0 {
		t.Fatalf("expected cancellation not to count as a failure, got %d", metrics.Failures)
	}
}

func TestRegistryResetClearsTerminalStates(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(manifestFor("p1", OnStartupFinished))
	r.records["p1"].State = PluginState{State: StateFailed}

	if err := r.Reset("p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := r.LifecycleState("p1")
	if state.State != StateRegistered {
		t.Fatalf("expected p1 to be registered again, got %s", state.State)
	}
}
