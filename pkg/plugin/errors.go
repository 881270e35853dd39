package plugin

import (
	xerrors "github.com/xnote-app/plugin-runtime/internal/errors"
)

// RuntimeError is the typed failure returned by every fallible runtime
// operation. Code is registered into internal/errors's shared registry at
// init, so RuntimeError composes with the rest of the host's error handling
// (alerting, retry classification) instead of forming a parallel system.
type RuntimeError struct {
	Code   xerrors.Code
	Detail string
	cause  error
}

// NewRuntimeError builds a RuntimeError with no underlying cause.
func NewRuntimeError(code xerrors.Code, detail string) *RuntimeError {
	return &RuntimeError{Code: code, Detail: detail}
}

// WrapRuntimeError builds a RuntimeError around an underlying cause.
func WrapRuntimeError(code xerrors.Code, cause error, detail string) *RuntimeError {
	return &RuntimeError{Code: code, Detail: detail, cause: cause}
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return string(e.Code) + ": " + e.Detail + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Detail
}

func (e *RuntimeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// AsError converts a RuntimeError into the host's shared *xerrors.Error so
// callers that only deal in the generic error type still see the right
// code, severity and retry/alert classification.
func (e *RuntimeError) AsError() *xerrors.Error {
	if e == nil {
		return nil
	}
	if e.cause != nil {
		return xerrors.Wrap(e.Code, e.cause, e.Detail)
	}
	return xerrors.New(e.Code, e.Detail)
}

const (
	CodeInvalidConfig       xerrors.Code = "PLUGIN_INVALID_CONFIG"
	CodeSpawnFailed         xerrors.Code = "PLUGIN_SPAWN_FAILED"
	CodeTransportIo         xerrors.Code = "PLUGIN_TRANSPORT_IO"
	CodeHandshakeRejected   xerrors.Code = "PLUGIN_HANDSHAKE_REJECTED"
	CodeProtocolMismatch    xerrors.Code = "PLUGIN_PROTOCOL_MISMATCH"
	CodeCapabilityViolation xerrors.Code = "PLUGIN_CAPABILITY_VIOLATION"
	CodeProtocolViolation   xerrors.Code = "PLUGIN_PROTOCOL_VIOLATION"
	CodeActivationRejected  xerrors.Code = "PLUGIN_ACTIVATION_REJECTED"
)

func init() {
	xerrors.Register(CodeInvalidConfig, xerrors.Attributes{
		Message:   "invalid plugin runtime configuration",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSpawnFailed, xerrors.Attributes{
		Message:   "failed to spawn plugin worker process",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTransportIo, xerrors.Attributes{
		Message:   "plugin transport read or write failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeHandshakeRejected, xerrors.Attributes{
		Message:   "plugin worker rejected handshake",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProtocolMismatch, xerrors.Attributes{
		Message:   "no protocol version shared with plugin worker",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeCapabilityViolation, xerrors.Attributes{
		Message:   "plugin capability not permitted by policy",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProtocolViolation, xerrors.Attributes{
		Message:   "plugin transport framing or message violation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeActivationRejected, xerrors.Attributes{
		Message:   "plugin worker rejected activation",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
