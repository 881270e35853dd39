package plugin

import "testing"

func TestCheckAllowedRejectsUndeclaredCapability(t *testing.T) {
	policy := Policy{AllowedCapabilities: []Capability{"fs.read"}}

	if err := checkAllowed([]Capability{"fs.read"}, policy); err != nil {
		t.Fatalf("expected fs.read to be allowed, got %v", err)
	}

	err := checkAllowed([]Capability{"fs.read", "net.connect"}, policy)
	if err == nil {
		t.Fatal("expected net.connect to be rejected")
	}
	re, ok := err.(*RuntimeError)
	if !ok || re.Code != CodeCapabilityViolation {
		t.Fatalf("expected CapabilityViolation, got %v", err)
	}
}

func TestCheckSubsetRejectsReportedCapabilityBeyondDeclared(t *testing.T) {
	declared := []Capability{"fs.read"}

	if err := checkSubset([]Capability{"fs.read"}, declared); err != nil {
		t.Fatalf("expected subset to pass, got %v", err)
	}

	err := checkSubset([]Capability{"fs.read", "fs.write"}, declared)
	if err == nil {
		t.Fatal("expected fs.write to be rejected as undeclared")
	}
	re, ok := err.(*RuntimeError)
	if !ok || re.Code != CodeCapabilityViolation {
		t.Fatalf("expected CapabilityViolation, got %v", err)
	}
}
