package signaling

import "errors"

// Error categories: transport/protocol errors tear the
// signaling session down; server-reported errors are returned to the
// caller without tearing anything down.
var (
	ErrDialFailed          = errors.New("signaling: dial failed")
	ErrUnreachable         = errors.New("signaling: rendezvous unreachable")
	ErrClosed              = errors.New("signaling: session closed")
	ErrTimeout             = errors.New("signaling: request timed out")
	ErrProtocolViolation   = errors.New("signaling: protocol violation")
	ErrFingerprintConflict = errors.New("signaling: fingerprint conflict")
	ErrRateLimited         = errors.New("signaling: rate limited")
	ErrNotFound            = errors.New("signaling: not found")
	ErrHeartbeatDeadline   = errors.New("signaling: heartbeat deadline exceeded")
	ErrKeyExchangeFailed   = errors.New("signaling: key exchange failed")
)

// serverError is the wire shape of a server-reported error; Err maps it to
// one of the sentinels above (or wraps it generically when the code is
// unrecognized).
type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *serverError) toError() error {
	switch e.Code {
	case "fingerprint_conflict":
		return wrapf(ErrFingerprintConflict, e.Message)
	case "rate_limited":
		return wrapf(ErrRateLimited, e.Message)
	case "not_found":
		return wrapf(ErrNotFound, e.Message)
	default:
		return wrapf(ErrProtocolViolation, e.Message)
	}
}

func wrapf(sentinel error, message string) error {
	if message == "" {
		return sentinel
	}
	return &wrappedServerError{sentinel: sentinel, message: message}
}

type wrappedServerError struct {
	sentinel error
	message  string
}

func (w *wrappedServerError) Error() string { return w.sentinel.Error() + ": " + w.message }
func (w *wrappedServerError) Unwrap() error { return w.sentinel }
