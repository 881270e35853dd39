package plugin

import (
	stdErrors "errors"
	"strings"
	"testing"
)

func TestRuntimeErrorMessageIncludesCauseWhenWrapped(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := WrapRuntimeError(CodeSpawnFailed, cause, "start worker process")

	if err.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}
	msg := err.Error()
	if !strings.Contains(msg, string(CodeSpawnFailed)) || !strings.Contains(msg, "connection refused") {
		t.Fatalf("expected the error message to mention both code and cause, got %q", msg)
	}
}

func TestRuntimeErrorWithoutCauseOmitsNilUnwrap(t *testing.T) {
	err := NewRuntimeError(CodeInvalidConfig, "missing command")
	if err.Unwrap() != nil {
		t.Fatal("expected Unwrap to return nil for a RuntimeError with no cause")
	}
}

func TestRuntimeErrorAsErrorPreservesCode(t *testing.T) {
	err := NewRuntimeError(CodeCapabilityViolation, "fs.write not permitted")
	asErr := err.AsError()
	if asErr.Code() != CodeCapabilityViolation {
		t.Fatalf("expected AsError to preserve the code, got %v", asErr.Code())
	}
}

func TestNilRuntimeErrorIsSafe(t *testing.T) {
	var err *RuntimeError
	if err.Error() != "" {
		t.Fatalf("expected a nil RuntimeError to stringify empty, got %q", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatal("expected a nil RuntimeError to unwrap to nil")
	}
	if err.AsError() != nil {
		t.Fatal("expected a nil RuntimeError to convert to a nil *xerrors.Error")
	}
}
